package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loykin/coinwatch/internal/notify"
	"github.com/loykin/coinwatch/internal/scheduler"
	"github.com/loykin/coinwatch/internal/state"
)

const (
	// pollTimeoutSec is the server-side long-poll window.
	pollTimeoutSec = 30
	// errRetryDelay is the pause after a failed poll before trying again.
	errRetryDelay = 5 * time.Second
)

// Watcher is the slice of the scheduler the command handler drives.
type Watcher interface {
	Pause()
	Resume()
	Status() scheduler.Status
}

// API is the Telegram surface the handler needs. *notify.Client satisfies it.
type API interface {
	GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]notify.Update, error)
	Reply(ctx context.Context, text string)
	ChatID() string
}

// Handler long-polls the Bot API for operator commands and applies them to
// the watcher and its persisted state. Only messages from the configured
// chat are honored; everything else is logged and dropped.
type Handler struct {
	api       API
	watch     Watcher
	stateFile string
	stateMu   *sync.Mutex
	logger    *slog.Logger

	mu   sync.Mutex
	quit chan struct{}
	done chan struct{}
}

// New creates a command handler. stateMu must be the same mutex the
// scheduler uses for the state file.
func New(api API, watch Watcher, stateFile string, stateMu *sync.Mutex, logger *slog.Logger) *Handler {
	return &Handler{api: api, watch: watch, stateFile: stateFile, stateMu: stateMu, logger: logger}
}

// Start launches the polling loop. Call Stop to cancel.
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.quit != nil {
		return errors.New("bot handler already started")
	}
	h.quit = make(chan struct{})
	h.done = make(chan struct{})
	go h.run(ctx, h.quit, h.done)
	return nil
}

// Stop cancels the loop and waits for it to exit. Safe to call twice, and
// the handler can be started again afterwards.
func (h *Handler) Stop() {
	h.mu.Lock()
	if h.quit == nil {
		h.mu.Unlock()
		return
	}
	select {
	case <-h.quit:
	default:
		close(h.quit)
	}
	done := h.done
	h.mu.Unlock()
	<-done
	h.mu.Lock()
	if h.done == done {
		h.quit, h.done = nil, nil
	}
	h.mu.Unlock()
}

func (h *Handler) run(ctx context.Context, quit chan struct{}, done chan struct{}) {
	defer close(done)
	var offset int64
	for {
		select {
		case <-quit:
			return
		case <-ctx.Done():
			return
		default:
		}
		updates, err := h.api.GetUpdates(ctx, offset, pollTimeoutSec)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.logger.Warn("bot poll failed, backing off", "error", err)
			select {
			case <-quit:
				return
			case <-ctx.Done():
				return
			case <-time.After(errRetryDelay):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			h.handle(ctx, u)
		}
	}
}

func (h *Handler) handle(ctx context.Context, u notify.Update) {
	if u.Message == nil {
		return
	}
	from := strconv.FormatInt(u.Message.Chat.ID, 10)
	if from != h.api.ChatID() {
		h.logger.Warn("ignoring command from unauthorized chat", "chat_id", from)
		return
	}
	cmd := strings.TrimSpace(u.Message.Text)
	h.logger.Info("operator command received", "command", cmd)
	switch cmd {
	case "/start":
		h.watch.Resume()
		h.api.Reply(ctx, "▶️ Моніторинг запущено")
	case "/stop":
		h.watch.Pause()
		h.api.Reply(ctx, "⏸ Моніторинг призупинено")
	case "/status":
		h.api.Reply(ctx, h.statusText())
	case "/reset_cart":
		h.mutateState(ctx, "🛒 Позначки кошика скинуто", func(st *state.WatcherState) {
			st.ClearCartMarks()
		})
	case "/clear_data":
		h.mutateState(ctx, "🗑 Дані про товари очищено", func(st *state.WatcherState) {
			st.ClearAllProducts()
		})
	default:
		h.api.Reply(ctx, "Невідома команда. Доступні: /start /stop /status /reset_cart /clear_data")
	}
}

// statusText builds the /status reply from the scheduler snapshot and the
// persisted product records.
func (h *Handler) statusText() string {
	s := h.watch.Status()
	var b strings.Builder
	switch {
	case !s.Running:
		b.WriteString("🔴 Watcher зупинено\n")
	case s.Paused:
		b.WriteString("⏸ Watcher призупинено\n")
	default:
		b.WriteString("🟢 Watcher працює\n")
	}
	fmt.Fprintf(&b, "Товарів: %d, циклів: %d\n", s.ProductCount, s.CycleCount)
	if !s.LastCycleAt.IsZero() {
		fmt.Fprintf(&b, "Останній цикл: %s\n", s.LastCycleAt.UTC().Format(time.RFC3339))
	}

	h.stateMu.Lock()
	st, err := state.Load(h.stateFile)
	h.stateMu.Unlock()
	if err != nil {
		b.WriteString("⚠️ Стан товарів недоступний")
		return b.String()
	}
	for url, rec := range st.Products {
		marker := "❓"
		switch rec.Status {
		case state.StatusAvailable:
			marker = "✅"
		case state.StatusUnavailable:
			marker = "❌"
		}
		fmt.Fprintf(&b, "%s %s\n%s\n", marker, rec.Name, url)
		if rec.InCart {
			b.WriteString("🛒 у кошику\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// mutateState applies fn to the persisted state under the shared lock.
func (h *Handler) mutateState(ctx context.Context, okReply string, fn func(*state.WatcherState)) {
	h.stateMu.Lock()
	st, err := state.Load(h.stateFile)
	if err == nil {
		fn(st)
		err = state.Save(st, h.stateFile)
	}
	h.stateMu.Unlock()
	if err != nil {
		h.logger.Error("state mutation failed", "error", err)
		h.api.Reply(ctx, "⚠️ Не вдалося оновити стан: "+err.Error())
		return
	}
	h.api.Reply(ctx, okReply)
}
