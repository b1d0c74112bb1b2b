package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/xino-ai/xino-voice/pkg/chat"
	"github.com/xino-ai/xino-voice/pkg/store"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	recordPath := flag.String("record", "", "dump captured voice audio to a WAV file on session end")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		log.Fatal("Error: GEMINI_API_KEY must be set.")
	}
	dbPath := os.Getenv("XINO_DB")
	if dbPath == "" {
		dbPath = "xino.db"
	}

	logger := zap.NewNop()
	if *debug {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			log.Fatal(err)
		}
	}
	defer logger.Sync()

	db, err := store.Open(dbPath, logger)
	if err != nil {
		log.Fatalf("Error: failed to open store: %v", err)
	}
	defer db.Close()

	stdin := bufio.NewScanner(os.Stdin)
	stdin.Buffer(make([]byte, 1024*1024), 1024*1024)

	account, err := authenticate(stdin, db)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	ctx := context.Background()
	svc, err := chat.NewService(ctx, apiKey, logger)
	if err != nil {
		log.Fatalf("Error: failed to create chat service: %v", err)
	}

	app := &app{
		account:    account,
		store:      db,
		chat:       svc,
		logger:     logger,
		apiKey:     apiKey,
		recordPath: *recordPath,
	}
	app.run(ctx, stdin)
}

type app struct {
	account    store.Account
	store      *store.Store
	chat       *chat.Service
	logger     *zap.Logger
	apiKey     string
	recordPath string

	history []chat.Message
	current *store.ChatSession
}

func authenticate(stdin *bufio.Scanner, db *store.Store) (store.Account, error) {
	for {
		choice := prompt(stdin, "Login or register? (l/r): ")
		switch strings.ToLower(choice) {
		case "l", "login":
			email := prompt(stdin, "Email: ")
			password := prompt(stdin, "Password: ")
			acct, err := db.Authenticate(email, password)
			if err != nil {
				fmt.Printf("Authentication failed: %v\n", err)
				continue
			}
			fmt.Printf("Welcome back, %s.\n", acct.Name)
			return acct, nil
		case "r", "register":
			name := prompt(stdin, "Full name: ")
			if name == "" {
				fmt.Println("Please provide your full name.")
				continue
			}
			email := prompt(stdin, "Email: ")
			password := prompt(stdin, "Password: ")
			acct, err := db.Register(name, email, password)
			if errors.Is(err, store.ErrAccountExists) {
				fmt.Println("An account with this email already exists.")
				continue
			}
			if err != nil {
				return store.Account{}, err
			}
			fmt.Printf("Account created. Welcome, %s.\n", acct.Name)
			return acct, nil
		case "q", "quit":
			os.Exit(0)
		}
	}
}

func (a *app) run(ctx context.Context, stdin *bufio.Scanner) {
	fmt.Println("Commands: /voice  /image <path> <prompt>  /history  /clear  /quit")

	for {
		line := prompt(stdin, "> ")
		if line == "" {
			continue
		}

		switch {
		case line == "/quit" || line == "/exit":
			a.persist()
			return

		case line == "/voice":
			if err := a.runVoice(ctx, stdin); err != nil {
				fmt.Printf("Voice session failed: %v\n", err)
			}

		case line == "/history":
			a.showHistory()

		case line == "/clear":
			if err := a.store.ClearSessions(a.account.Email); err != nil {
				fmt.Printf("Failed to clear history: %v\n", err)
			} else {
				fmt.Println("History cleared.")
			}

		case strings.HasPrefix(line, "/image "):
			a.sendImage(ctx, strings.TrimPrefix(line, "/image "))

		default:
			a.sendText(ctx, line)
		}
	}
}

func (a *app) sendText(ctx context.Context, text string) {
	reply := a.chat.StreamMessage(ctx, chat.Request{
		Prompt:   text,
		History:  a.history,
		UserName: a.account.Name,
	}, printFragment)
	fmt.Println()

	a.history = append(a.history,
		chat.Message{Role: chat.RoleUser, Text: text},
		chat.Message{Role: chat.RoleModel, Text: reply})
	a.record(text, reply)
}

func (a *app) sendImage(ctx context.Context, args string) {
	path, imgPrompt, _ := strings.Cut(args, " ")
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("Cannot read %s: %v\n", path, err)
		return
	}

	reply := a.chat.StreamMessage(ctx, chat.Request{
		Prompt:   imgPrompt,
		History:  a.history,
		UserName: a.account.Name,
		Attachment: &chat.Attachment{
			Data:     data,
			MimeType: mimeTypeFor(path),
		},
	}, func(fragment string) {
		if url, ok := chat.IsImageFragment(fragment); ok {
			out := imageOutputPath(path)
			if err := writeDataURL(out, url); err != nil {
				fmt.Printf("[image received but could not be saved: %v]", err)
			} else {
				fmt.Printf("[edited image saved to %s]", out)
			}
			return
		}
		printFragment(fragment)
	})
	fmt.Println()

	a.history = append(a.history,
		chat.Message{Role: chat.RoleUser, Text: imgPrompt},
		chat.Message{Role: chat.RoleModel, Text: reply})
	a.record("[image] "+imgPrompt, reply)
}

// record appends the exchange to the current saved session, creating one
// titled after the first user message.
func (a *app) record(userText, reply string) {
	if a.current == nil {
		title := userText
		if len(title) > 30 {
			title = title[:30] + "..."
		}
		sess := store.NewChatSession(title)
		a.current = &sess
	}
	a.current.Messages = append(a.current.Messages,
		store.NewChatMessage("user", userText),
		store.NewChatMessage("assistant", reply))
	a.persist()
}

func (a *app) persist() {
	if a.current == nil {
		return
	}
	sessions, err := a.store.LoadSessions(a.account.Email)
	if err != nil {
		a.logger.Warn("failed to load sessions", zap.Error(err))
		return
	}
	replaced := false
	for i := range sessions {
		if sessions[i].ID == a.current.ID {
			sessions[i] = *a.current
			replaced = true
			break
		}
	}
	if !replaced {
		sessions = append(sessions, *a.current)
	}
	if err := a.store.SaveSessions(a.account.Email, sessions); err != nil {
		a.logger.Warn("failed to save sessions", zap.Error(err))
	}
}

func (a *app) showHistory() {
	sessions, err := a.store.LoadSessions(a.account.Email)
	if err != nil {
		fmt.Printf("Failed to load history: %v\n", err)
		return
	}
	if len(sessions) == 0 {
		fmt.Println("No saved conversations.")
		return
	}
	for _, sess := range sessions {
		fmt.Printf("  %s (%d messages)\n", sess.Title, len(sess.Messages))
	}
}

func prompt(stdin *bufio.Scanner, label string) string {
	fmt.Print(label)
	if !stdin.Scan() {
		os.Exit(0)
	}
	return strings.TrimSpace(stdin.Text())
}

func printFragment(fragment string) {
	fmt.Print(fragment)
}

func mimeTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

func imageOutputPath(in string) string {
	ext := filepath.Ext(in)
	return strings.TrimSuffix(in, ext) + ".edited" + ext
}

// writeDataURL decodes a data:<mime>;base64,<payload> URL to a file.
func writeDataURL(path, dataURL string) error {
	_, payload, ok := strings.Cut(dataURL, ";base64,")
	if !ok {
		return fmt.Errorf("unexpected data URL format")
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("failed to decode image payload: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}
