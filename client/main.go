package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sentialytic/reapears/pkg/conversation"
	"github.com/sentialytic/reapears/pkg/protocol"
)

const help = `commands:
  /to <user-id>      talk to user
  /read              mark messages from the current peer as read
  /delete <msg-id>   delete a message for yourself
  /unsend <msg-id>   delete a message you sent for everyone
  /history           print the conversation with the current peer
  /quit
anything else is sent to the current peer`

type LoginResponse struct {
	Token string `json:"token"`
}

func login(apiAddr string, userID uuid.UUID) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{"user_id": userID.String()})
	resp, err := http.Post(apiAddr+"/account/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", strings.TrimSpace(string(body)))
	}

	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", err
	}
	return loginResp.Token, nil
}

// chatClient is the terminal side of one chat session.
type chatClient struct {
	me     uuid.UUID
	api    string
	token  string
	conn   *websocket.Conn
	writeM sync.Mutex

	mu     sync.Mutex
	peer   uuid.UUID
	unread map[uuid.UUID][]uuid.UUID // sender -> unread message ids
}

func (c *chatClient) send(cmd protocol.Command) error {
	data, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	c.writeM.Lock()
	defer c.writeM.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *chatClient) currentPeer() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// readLoop prints server messages until the connection closes.
func (c *chatClient) readLoop(done chan<- struct{}) {
	defer close(done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			slog.Info("connection closed", "err", err)
			return
		}

		msg, err := protocol.DecodeForward(data)
		if err != nil {
			fmt.Printf("\rreceived raw: %s\n> ", data)
			continue
		}

		switch m := msg.(type) {
		case protocol.DirectMessage:
			c.mu.Lock()
			c.unread[m.SenderID] = append(c.unread[m.SenderID], m.ID)
			c.mu.Unlock()
			fmt.Printf("\r[%s] %s: %s  (%s)\n> ", m.SentAt.Local().Format(time.Kitchen), m.SenderID, m.Content, m.ID)
		case protocol.MessageIsRead:
			fmt.Printf("\r%d message(s) read\n> ", len(m.Messages))
		case protocol.UserConnected:
			if m.UserID != c.me {
				fmt.Printf("\r%s is online\n> ", m.UserID)
			}
		case protocol.UserDisconnected:
			fmt.Printf("\r%s went offline\n> ", m.UserID)
		case protocol.IncomingMessageError:
			fmt.Printf("\rserver rejected the last command: %s\n> ", m.Code)
		}
	}
}

// handleLine runs one line of input. It returns false on /quit.
func (c *chatClient) handleLine(line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true, nil
	}

	switch fields[0] {
	case "/quit":
		return false, nil

	case "/help":
		fmt.Println(help)
		return true, nil

	case "/to":
		if len(fields) != 2 {
			return true, fmt.Errorf("usage: /to <user-id>")
		}
		peer, err := uuid.Parse(fields[1])
		if err != nil {
			return true, err
		}
		c.mu.Lock()
		c.peer = peer
		c.mu.Unlock()
		fmt.Printf("talking to %s\n", peer)
		return true, nil

	case "/read":
		peer := c.currentPeer()
		c.mu.Lock()
		ids := c.unread[peer]
		delete(c.unread, peer)
		c.mu.Unlock()
		if len(ids) == 0 {
			return true, nil
		}
		return true, c.send(protocol.MessageIsRead{SenderID: peer, Messages: ids})

	case "/delete", "/unsend":
		if len(fields) != 2 {
			return true, fmt.Errorf("usage: %s <msg-id>", fields[0])
		}
		id, err := uuid.Parse(fields[1])
		if err != nil {
			return true, err
		}
		if fields[0] == "/unsend" {
			return true, c.send(protocol.MessageDeleteForEveryone{MessageID: id})
		}
		return true, c.send(protocol.MessageDelete{MessageID: id})

	case "/history":
		return true, c.printHistory()
	}

	peer := c.currentPeer()
	if peer == uuid.Nil {
		return true, fmt.Errorf("pick someone to talk to with /to <user-id>")
	}
	return true, c.send(protocol.NewMessage{Content: line, ReceiverID: peer})
}

func (c *chatClient) printHistory() error {
	peer := c.currentPeer()
	if peer == uuid.Nil {
		return fmt.Errorf("no peer selected")
	}

	req, err := http.NewRequest(http.MethodGet, c.api+"/account/users/chat/direct_message/"+peer.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("history: %s", resp.Status)
	}

	var conv conversation.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return err
	}
	for _, m := range conv.Messages {
		who := m.SenderID.String()
		if m.IsAuthor {
			who = "me"
		}
		fmt.Printf("[%s] %s: %s  (%s)\n", m.SentAt.Local().Format(time.Kitchen), who, m.Content, m.ID)
	}
	return nil
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userFlag := flag.String("user", "", "user id (uuid); a random one when empty")
	peerFlag := flag.String("to", "", "user id to talk to")
	flag.Parse()

	me := uuid.New()
	if *userFlag != "" {
		var err error
		if me, err = uuid.Parse(*userFlag); err != nil {
			slog.Error("invalid -user", "err", err)
			os.Exit(1)
		}
	}

	// 1. Login to get token
	slog.Info("logging in", "user", me)
	token, err := login(*apiAddr, me)
	if err != nil {
		slog.Error("login failed", "err", err)
		os.Exit(1)
	}

	// 2. Connect to WebSocket with token
	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/account/users/chat"}
	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		slog.Error("dial", "url", u.String(), "err", err)
		os.Exit(1)
	}
	defer conn.Close()

	c := &chatClient{me: me, api: *apiAddr, token: token, conn: conn, unread: make(map[uuid.UUID][]uuid.UUID)}
	if *peerFlag != "" {
		if _, err := c.handleLine("/to " + *peerFlag); err != nil {
			slog.Error("invalid -to", "err", err)
			os.Exit(1)
		}
	}
	fmt.Printf("connected as %s, /help for commands\n", me)

	// 3. Start goroutine to read messages
	done := make(chan struct{})
	go c.readLoop(done)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	// 4. Read from stdin and send commands
	quit := make(chan struct{})
	go func() {
		defer close(quit)
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			more, err := c.handleLine(scanner.Text())
			if err != nil {
				fmt.Println("error:", err)
			}
			if !more {
				return
			}
			fmt.Print("> ")
		}
	}()

	select {
	case <-done:
		return
	case <-interrupt:
	case <-quit:
	}

	// Cleanly close the connection by sending a close message and then
	// waiting (with timeout) for the server to close the connection.
	c.writeM.Lock()
	err = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeM.Unlock()
	if err != nil {
		slog.Warn("write close", "err", err)
		return
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}
