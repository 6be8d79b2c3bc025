package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/softwind-labs/companion/internal/api"
	"github.com/softwind-labs/companion/internal/engine"
	"github.com/softwind-labs/companion/internal/provider"
	"github.com/softwind-labs/companion/internal/settings"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	serverURL := flag.String("server", "http://localhost:8080", "Companion API server URL")
	handle := flag.String("handle", "", "Account handle")
	password := flag.String("password", "", "Account password")
	chatID := flag.Int64("chat", 0, "Chat ID to open")
	characterID := flag.String("character", "", "Character ID to start a new chat with")

	apiKind := flag.String("api", "", "Generation backend: empty for managed, 'openai' or 'selfhosted'")
	model := flag.String("model", "", "Model name for the direct backend")
	openAIKey := flag.String("openai-key", os.Getenv("OPENAI_API_KEY"), "OpenAI API key")
	reverseProxy := flag.String("reverse-proxy", "", "OpenAI-compatible reverse proxy URL")
	reverseProxyKey := flag.String("reverse-proxy-key", "", "Reverse proxy key")
	apiURL := flag.String("api-url", "", "Self-hosted backend URL")
	flag.Parse()

	if *handle == "" || *password == "" {
		log.Fatal("-handle and -password are required")
	}
	if *chatID == 0 && *characterID == "" {
		log.Fatal("one of -chat or -character is required")
	}

	ctx := context.Background()

	client := api.NewClient(*serverURL)
	user, err := client.Login(ctx, *handle, *password)
	if err != nil {
		log.Fatalf("Login failed: %v", err)
	}

	if *chatID == 0 {
		chat, err := client.CreateChat(ctx, *characterID)
		if err != nil {
			log.Fatalf("Failed to create chat: %v", err)
		}
		*chatID = chat.ID
	}

	st := settings.Settings{
		API:             *apiKind,
		Model:           *model,
		OpenAIKey:       *openAIKey,
		ReverseProxy:    *reverseProxy,
		ReverseProxyKey: *reverseProxyKey,
		APIURL:          *apiURL,
		ManagedURL:      *serverURL,
		TextStreaming:   true,
	}
	if *reverseProxy != "" {
		st.OpenAIMode = "proxy"
	} else if *openAIKey != "" {
		st.OpenAIMode = "api_key"
	}

	gen := provider.ForSettings(st, *user, client.Token)
	session := engine.NewSession(*chatID, *user, st, client, gen)

	printer := newPrinter()
	session.OnUpdate = printer.render
	session.OnError = func(err error) {
		fmt.Fprintf(os.Stderr, "\n[error] %v\n", err)
	}

	if err := session.Refresh(ctx); err != nil {
		log.Fatalf("Failed to load chat %d: %v", *chatID, err)
	}
	chat := session.Chat()
	if chat == nil {
		log.Fatalf("Chat %d not found", *chatID)
	}
	fmt.Printf("Chatting with %s. /left /right /regen to swipe, /quit to exit.\n\n", chat.Character.Name)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		var err error
		switch line {
		case "":
		case "/quit", "/exit":
			return
		case "/left":
			err = session.Swipe(ctx, engine.SwipeLeft)
		case "/right":
			err = session.Swipe(ctx, engine.SwipeRight)
		case "/regen":
			err = session.Swipe(ctx, engine.Regenerate)
		default:
			err = session.SendMessage(ctx, line)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "[error] %v\n", err)
		}
		fmt.Print("\n> ")
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("Input error: %v", err)
	}
}

// printer renders the reply as it streams. Appended text is written as-is;
// when the display text is rewritten mid-stream the whole message is
// reprinted on a fresh line.
type printer struct {
	last string
}

func newPrinter() *printer {
	return &printer{}
}

func (p *printer) render(state engine.State) {
	if len(state.ToDisplay) == 0 {
		return
	}
	text := state.ToDisplay[len(state.ToDisplay)-1].Text
	if text == p.last {
		return
	}

	if strings.HasPrefix(text, p.last) {
		fmt.Print(text[len(p.last):])
	} else {
		fmt.Print("\n" + text)
	}
	p.last = text
}
