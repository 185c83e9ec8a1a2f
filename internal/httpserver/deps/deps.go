package deps

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/pinbook/internal/linking"
	"github.com/MrSnakeDoc/pinbook/internal/logger"
	"github.com/MrSnakeDoc/pinbook/internal/offline"
	"github.com/MrSnakeDoc/pinbook/internal/prefs"
	"github.com/MrSnakeDoc/pinbook/internal/session"
	"github.com/MrSnakeDoc/pinbook/internal/telegram"
)

// UpdateHandler processes one chat update. *bridge.Bridge implements it.
type UpdateHandler interface {
	Handle(ctx context.Context, u telegram.Update) error
}

// Check is a named readiness probe.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type Deps struct {
	Logger       logger.Logger
	StartTime    time.Time
	Version      string
	Commit       string
	BuildDate    string
	GoVersion    string
	TimeNow      func() time.Time // for testing, defaults to time.Now
	AllowedHosts []string         // Host headers allowed to access the server
	AllowedCIDRS []string         // IPs allowed to access healthz/readyz/infra endpoints
	TrustProxy   bool             // true if running behind a trusted reverse proxy (e.g., cloudflared)

	Sessions *session.Manager // per-credential client, queue and library
	Prefs    *prefs.File      // UI prefs and saved credential
	Monitor  *offline.Monitor // connectivity state

	Linking        linking.Store // nil when the chat bridge is disabled
	Bridge         UpdateHandler // nil when the chat bridge is disabled
	BotUsername    string        // used to build t.me deep links
	WebhookSecret  string        // optional X-Telegram-Bot-Api-Secret-Token value
	WebhookTimeout time.Duration // budget for processing a single update

	Checks       []Check       // readiness probes (storage, linking store)
	DrainTrigger chan struct{} // kicks the queue drainer outside its schedule
	LinkingMode  string        // "redis" | "memory" | "" (disabled)
}
