// Command chatprobe connects to a running Campfire server as a client
// and tails a room's realtime stream. Useful for checking fan-out
// behavior without a browser.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	addr := flag.String("addr", "localhost:3000", "server host:port")
	email := flag.String("email", "admin@example.com", "login email")
	password := flag.String("password", "campfire-dev", "login password")
	roomID := flag.Uint("room", 1, "room id to join")
	flag.Parse()

	token, err := login(*addr, *email, *password)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}

	ticket, err := wsTicket(*addr, token)
	if err != nil {
		log.Fatalf("ticket request failed: %v", err)
	}

	url := fmt.Sprintf("ws://%s/api/ws?ticket=%s", *addr, ticket)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	join := map[string]any{"type": "join", "room_id": *roomID}
	if err := conn.WriteJSON(join); err != nil {
		log.Fatalf("join failed: %v", err)
	}
	log.Printf("joined room %d, tailing events...", *roomID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Printf("read: %v", err)
				return
			}
			var pretty bytes.Buffer
			if json.Indent(&pretty, data, "", "  ") == nil {
				fmt.Println(pretty.String())
			} else {
				fmt.Println(string(data))
			}
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			return
		case <-heartbeat.C:
			if err := conn.WriteJSON(map[string]any{"type": "heartbeat"}); err != nil {
				log.Printf("heartbeat: %v", err)
				return
			}
		case <-interrupt:
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}

func login(addr, email, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := http.Post("http://"+addr+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func wsTicket(addr, token string) (string, error) {
	req, err := http.NewRequest(http.MethodPost, "http://"+addr+"/api/ws/ticket", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	var out struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Ticket, nil
}
