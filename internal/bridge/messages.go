package bridge

import (
	"fmt"
	"strings"
)

// Replies sent to the chat. Kept together so tests can match on them.
const (
	msgStartInstructions = "👋 Hi! To connect this chat to your Pinboard account, open Pinbook, " +
		"generate a link code and send it here as /start <code>."
	msgLinkFirst     = "🔒 This chat is not linked yet. Send /start <code> with a code generated in Pinbook."
	msgInvalidCode   = "❌ That code is invalid or expired. Generate a new one in Pinbook and try again."
	msgAskForURL     = "🔗 Send me a link to save it to Pinboard."
	msgNothingToSkip = "🤷 Nothing pending. Send me a link first."
	msgDisconnected  = "👋 Disconnected. This chat will no longer save to Pinboard."
	msgNotLinked     = "This chat is not linked."
	msgAuthRejected  = "🔑 Pinboard rejected the saved credential. Link this chat again from Pinbook."
	msgGenericError  = "⚠️ Something went wrong. Please try again in a moment."
	msgUnknownCmd    = "🤔 Unknown command. Send /help for the list."

	msgHelp = "Send me any message containing a link and I will save it to Pinboard.\n\n" +
		"After a link I ask for tags: reply with words separated by spaces or commas, " +
		"or /skip to save without tags.\n\n" +
		"/skip - save the pending link without tags\n" +
		"/disconnect - unlink this chat\n" +
		"/help - this message"
)

func msgLinked(user string) string {
	return fmt.Sprintf("✅ Linked to Pinboard account %s. Send me a link to save it.", user)
}

func msgAlreadyLinked(user string) string {
	return fmt.Sprintf("✅ Already linked to %s. Send me a link, or /start <code> to link another account.", user)
}

func msgAskForTags(title string) string {
	return fmt.Sprintf("📌 %s\n\nReply with tags (space or comma separated) or /skip to save without tags.", title)
}

func msgReplaced(title string) string {
	return fmt.Sprintf("🔁 Replaced the previous pending link with:\n📌 %s\n\nReply with tags or /skip.", title)
}

func msgSaved(title string, tags []string) string {
	if len(tags) == 0 {
		return fmt.Sprintf("✅ Saved: %s", title)
	}
	return fmt.Sprintf("✅ Saved: %s\n🏷 %s", title, joinHashtags(tags))
}

func msgAlreadySaved(title string) string {
	return fmt.Sprintf("ℹ️ Already in your bookmarks: %s", title)
}

func joinHashtags(tags []string) string {
	marked := make([]string, len(tags))
	for i, t := range tags {
		marked[i] = "#" + t
	}
	return strings.Join(marked, " ")
}
