// Command client is a small terminal chat client against the ProNet
// chat service, mostly useful for poking at a running server.
//
// Commands:
//
//	/open <conversationId>   switch the active conversation
//	/older                   load the next page of history
//	/who                     list online members
//	/unread                  show the total unread count
//	/send <receiverId> <..>  send a message
//	/quit
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/DSkillz/ProNet-sub001/internal/model"
	"github.com/DSkillz/ProNet-sub001/internal/realtime"
)

func main() {
	_ = godotenv.Load()

	apiURL := flag.String("api", envOr("PRONET_API_URL", "http://localhost:8080/pn/api/chat"), "chat REST base URL")
	socketURL := flag.String("ws", envOr("PRONET_WS_URL", "ws://localhost:8081/ws"), "chat websocket URL")
	token := flag.String("token", os.Getenv("PRONET_TOKEN"), "session bearer token")
	flag.Parse()

	if *token == "" {
		fmt.Fprintln(os.Stderr, "a session token is required (-token or PRONET_TOKEN)")
		os.Exit(1)
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	client := realtime.NewClient(realtime.Config{
		APIBaseURL: *apiURL,
		SocketURL:  *socketURL,
		Token:      *token,
		Logger:     logger,
	})
	defer client.Close()

	stopNotify := client.OnNotification(func(n model.Notification) {
		fmt.Printf("\n[%s] %s: %s\n> ", n.Type, n.Title, n.Content)
	})
	defer stopNotify()

	ctx := context.Background()
	client.Connect(ctx)

	if err := client.Conversations.Refresh(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "could not load conversations: %v\n", err)
	}
	for _, conv := range client.Conversations.Conversations() {
		preview := ""
		if conv.LastMessage != nil {
			preview = conv.LastMessage.Body
		}
		fmt.Printf("%s  (unread %d)  %s\n", conv.ID.Hex(), conv.UnreadCount, preview)
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return
		case line == "/who":
			fmt.Println(strings.Join(client.Presence.Online(), ", "))
		case line == "/unread":
			count, err := client.UnreadCount(ctx)
			if err != nil {
				fmt.Println("error:", err)
				break
			}
			fmt.Println(count, "unread")
		case line == "/older":
			if err := client.Messages.LoadOlder(ctx); err != nil {
				fmt.Println("error:", err)
			}
			printLog(client)
		case strings.HasPrefix(line, "/open "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
			if err := client.Messages.SetActive(ctx, id); err != nil {
				fmt.Println("error:", err)
				break
			}
			client.Conversations.MarkRead(id)
			printLog(client)
		case strings.HasPrefix(line, "/send "):
			parts := strings.SplitN(strings.TrimPrefix(line, "/send "), " ", 2)
			if len(parts) != 2 {
				fmt.Println("usage: /send <receiverId> <message>")
				break
			}
			if _, err := client.Messages.Send(ctx, parts[0], parts[1]); err != nil {
				fmt.Println("error:", err)
			}
		case line != "":
			fmt.Println("unknown command")
		}
		fmt.Print("> ")
	}
}

func printLog(client *realtime.Client) {
	msgs := client.Messages.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		read := ""
		if m.Read() {
			read = " ✓"
		}
		fmt.Printf("%s %s: %s%s\n", m.CreatedAt.Format(time.Kitchen), m.SenderID, m.Body, read)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
