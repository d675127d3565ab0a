package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/google/uuid"
)

type LoginResponse struct {
	Token string `json:"token"`
}

func main() {
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	flag.Parse()

	user, peer := uuid.New(), uuid.New()

	// 1. Login
	reqBody, _ := json.Marshal(map[string]string{"user_id": user.String()})
	resp, err := http.Post(*apiAddr+"/account/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Login failed: %s (is auth.dev_login enabled?)", resp.Status)
	}

	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Logged in as %s\n", user)

	// 2. Conversations, a conversation and a delete that must be refused
	call := func(method, path string) {
		req, _ := http.NewRequest(method, *apiAddr+path, nil)
		req.Header.Add("Authorization", "Bearer "+loginResp.Token)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Fatalf("%s %s failed: %v", method, path, err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		log.Printf("%s %s -> %s %s", method, path, resp.Status, bytes.TrimSpace(body))
	}
	call(http.MethodGet, "/account/users/chat/direct_message")
	call(http.MethodGet, "/account/users/chat/direct_message/"+peer.String())
	call(http.MethodDelete, "/account/users/chat/direct_message/"+uuid.NewString())
	call(http.MethodGet, "/account/users/chat/online")
}
