package linking

import (
	"strconv"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
)

const (
	// KeyPrefixCode maps a linking code to a credential.
	KeyPrefixCode = "pinbook:code:"
	// KeyPrefixChat maps a chat id to a credential.
	KeyPrefixChat = "pinbook:chat:"
	// KeyPrefixCredential maps sha256(credential) to a chat id.
	KeyPrefixCredential = "pinbook:cred:"
	// KeyPrefixPending holds the bookmark awaiting tags for a chat.
	KeyPrefixPending = "pinbook:pending:"
	// KeyPrefixUpdate remembers processed Telegram update ids.
	KeyPrefixUpdate = "pinbook:update:"
)

func CodeKey(code string) string {
	return KeyPrefixCode + code
}

func ChatKey(chatID int64) string {
	return KeyPrefixChat + strconv.FormatInt(chatID, 10)
}

// CredentialKey never embeds the raw credential.
func CredentialKey(credential string) string {
	return KeyPrefixCredential + domain.HashCredential(credential)
}

func PendingKey(chatID int64) string {
	return KeyPrefixPending + strconv.FormatInt(chatID, 10)
}

func UpdateKey(updateID int64) string {
	return KeyPrefixUpdate + strconv.FormatInt(updateID, 10)
}
