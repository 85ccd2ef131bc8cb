// Chat client: session and message synchronization engine with a
// line-oriented terminal front end.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/v-a-dinesh/Chat-Client/internal/auth"
	"github.com/v-a-dinesh/Chat-Client/internal/config"
	"github.com/v-a-dinesh/Chat-Client/internal/engine"
	"github.com/v-a-dinesh/Chat-Client/internal/render"
	"github.com/v-a-dinesh/Chat-Client/internal/store"
	"github.com/v-a-dinesh/Chat-Client/internal/transport"
)

func main() {
	// Logs go to stderr so they never interleave with the rendered chat.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}

	ch := transport.NewWebSocket(cfg.ServerURL)
	eng := engine.New(repo, ch, engine.Config{ReconnectInterval: cfg.ReconnectInterval})

	var identity *auth.Client
	if cfg.IdentityURL != "" {
		identity = auth.NewClient(cfg.IdentityURL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	if err := eng.Connect(ctx); err != nil {
		slog.Error("Failed to start connection", "error", err)
		os.Exit(1)
	}

	renderer := render.NewRenderer(os.Stdout)

	// Re-render whenever engine state changes (inbound messages, state
	// transitions).
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-eng.Updates():
				snap, err := eng.Snapshot(ctx)
				if err != nil {
					return
				}
				renderer.Render(render.Build(snap))
			}
		}
	}()

	repl(ctx, stop, eng, identity)

	stop()
	if err := <-runErr; err != nil {
		slog.Error("Engine stopped with error", "error", err)
		os.Exit(1)
	}
}

func repl(ctx context.Context, stop func(), eng *engine.Engine, identity *auth.Client) {
	fmt.Println("chat client ready — /help for commands")
	scanner := bufio.NewScanner(os.Stdin)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if err := eng.SendMessage(ctx, line); err != nil {
				printSendError(err)
			}
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/help":
			printHelp()
		case "/new":
			if _, err := eng.CreateSession(ctx); err != nil {
				fmt.Println("error:", err)
			}
		case "/switch":
			if len(fields) != 2 {
				fmt.Println("usage: /switch <number>")
				continue
			}
			switchByIndex(ctx, eng, fields[1])
		case "/clear":
			if err := eng.ClearChat(ctx); err != nil {
				fmt.Println("error:", err)
			}
		case "/delete":
			if len(fields) != 2 {
				fmt.Println("usage: /delete <number>")
				continue
			}
			deleteByIndex(ctx, eng, fields[1])
		case "/connect":
			if err := eng.Connect(ctx); err != nil {
				fmt.Println("error:", err)
			}
		case "/disconnect":
			if err := eng.Disconnect(ctx); err != nil {
				fmt.Println("error:", err)
			}
		case "/login":
			login(ctx, identity, fields[1:])
		case "/register":
			register(ctx, identity, fields[1:])
		case "/whoami":
			whoami(ctx, identity)
		case "/logout":
			if identity != nil {
				identity.Logout()
			}
			if err := eng.Logout(ctx); err != nil {
				fmt.Println("error:", err)
			}
		case "/quit":
			return
		default:
			fmt.Println("unknown command — /help for commands")
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Warn("stdin read error", "error", err)
	}
	stop()
}

func printSendError(err error) {
	switch {
	case errors.Is(err, engine.ErrNoActiveSession):
		fmt.Println("no active session — /new to start one")
	case errors.Is(err, engine.ErrNotConnected):
		fmt.Println("not connected — input disabled until the connection is back")
	case errors.Is(err, engine.ErrEmptyMessage):
		// Blank input, nothing to report.
	default:
		fmt.Println("error:", err)
	}
}

func sessionIDByIndex(ctx context.Context, eng *engine.Engine, arg string) (string, bool) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		fmt.Println("expected a session number from the list")
		return "", false
	}
	snap, err := eng.Snapshot(ctx)
	if err != nil {
		return "", false
	}
	if n > len(snap.Sessions) {
		fmt.Println("no such session")
		return "", false
	}
	return snap.Sessions[n-1].ID, true
}

func switchByIndex(ctx context.Context, eng *engine.Engine, arg string) {
	id, ok := sessionIDByIndex(ctx, eng, arg)
	if !ok {
		return
	}
	if err := eng.SwitchSession(ctx, id); err != nil {
		fmt.Println("error:", err)
	}
}

func deleteByIndex(ctx context.Context, eng *engine.Engine, arg string) {
	id, ok := sessionIDByIndex(ctx, eng, arg)
	if !ok {
		return
	}
	if err := eng.DeleteSession(ctx, id); err != nil {
		fmt.Println("error:", err)
	}
}

func login(ctx context.Context, identity *auth.Client, args []string) {
	if identity == nil {
		fmt.Println("identity service not configured (set IDENTITY_URL)")
		return
	}
	if len(args) != 2 {
		fmt.Println("usage: /login <identifier> <password>")
		return
	}
	user, err := identity.Login(ctx, args[0], args[1])
	if err != nil {
		fmt.Println("login failed:", err)
		return
	}
	fmt.Printf("logged in as %s <%s>\n", user.Username, user.Email)
}

func register(ctx context.Context, identity *auth.Client, args []string) {
	if identity == nil {
		fmt.Println("identity service not configured (set IDENTITY_URL)")
		return
	}
	if len(args) != 3 {
		fmt.Println("usage: /register <username> <email> <password>")
		return
	}
	user, err := identity.Register(ctx, args[0], args[1], args[2])
	if err != nil {
		fmt.Println("registration failed:", err)
		return
	}
	fmt.Printf("registered as %s <%s>\n", user.Username, user.Email)
}

func whoami(ctx context.Context, identity *auth.Client) {
	if identity == nil {
		fmt.Println("identity service not configured (set IDENTITY_URL)")
		return
	}
	user, err := identity.Me(ctx)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("%s <%s>\n", user.Username, user.Email)
}

func printHelp() {
	fmt.Println(`commands:
  <text>              send a message to the active session
  /new                create and activate a new session
  /switch <number>    activate a session from the list
  /clear              clear the active session's messages
  /delete <number>    delete a session
  /connect            (re)connect to the chat server
  /disconnect         disconnect from the chat server
  /login <id> <pw>    authenticate against the identity service
  /register <u> <e> <pw>
  /whoami             show the authenticated user
  /logout             disconnect and wipe all local session data
  /quit               exit`)
}
