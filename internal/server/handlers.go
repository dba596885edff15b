// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, room presence, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
)

// WebSocketHandler upgrades the request to a WebSocket and runs the chat
// session on the request goroutine until the connection ends.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	if s.isClosing() {
		http.Error(w, "Server is shutting down.", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := NewClient(conn, r.RemoteAddr, s.cfg)
	if !s.beginSession(client) {
		client.abort(CloseGoingAway, reasonServerShutdown)
		return
	}
	defer s.endSession(client)

	sess := &session{server: s, client: client, state: stateConnecting}
	sess.run(s.ctx)
}

// OnlineHandler lists the users currently present in a room as JSON.
func (s *Server) OnlineHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")

	users, err := s.online(r.Context(), roomID)
	if err != nil {
		log.Printf("Error listing presence for room '%s': %v", roomID, err)
		http.Error(w, "presence unavailable", http.StatusServiceUnavailable)
		return
	}
	if users == nil {
		users = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"roomId": roomID, "users": users}); err != nil {
		log.Printf("Error writing presence response: %v", err)
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "OK")
}

// TestPageHandler serves an HTML page that speaks the chat protocol: join a
// room with a token, send messages, switch rooms, and load history.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		log.Printf("Error writing HTML response: %v", err)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>RoomChat Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; }
        input[type="text"] { width: 220px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        .announcement { color: gray; font-style: italic; }
        .mine { color: blue; }
    </style>
</head>
<body>
    <h1>RoomChat Test</h1>
    <div>
        <input type="text" id="token" placeholder="Token">
        <input type="text" id="room" placeholder="Room" value="lobby">
        <button onclick="connect()">Join</button>
        <button onclick="switchRoom()">Switch room</button>
        <button onclick="loadHistory()">Load history</button>
    </div>
    <div id="log"></div>
    <div>
        <input type="text" id="text" placeholder="Type a message...">
        <button onclick="sendMessage()">Send</button>
    </div>
    <script>
        let ws = null;
        let cursor = null;
        const log = document.getElementById('log');

        function add(text, cls) {
            const el = document.createElement('div');
            el.className = cls || '';
            el.textContent = text;
            log.appendChild(el);
            log.scrollTop = log.scrollHeight;
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = () => ws.send(JSON.stringify({
                type: 'join',
                token: document.getElementById('token').value,
                roomId: document.getElementById('room').value
            }));
            ws.onmessage = (event) => {
                const msg = JSON.parse(event.data);
                if (msg.type === 'announcement') {
                    add(msg.message, 'announcement');
                } else if (msg.type === 'message') {
                    add(msg.userId + ': ' + msg.text);
                } else if (msg.type === 'chat_history') {
                    msg.messages.forEach(m => add('[history] ' + m.userId + ': ' + m.text));
                    cursor = msg.nextCursor;
                }
            };
            ws.onclose = (event) => add('Connection closed (' + event.code + ' ' + event.reason + ')', 'announcement');
        }

        function switchRoom() {
            if (ws) {
                cursor = null;
                ws.send(JSON.stringify({type: 'join', roomId: document.getElementById('room').value}));
            }
        }

        function loadHistory() {
            if (ws) {
                const req = {type: 'load_chat', limit: 20};
                if (cursor) { req.before = cursor; }
                ws.send(JSON.stringify(req));
            }
        }

        function sendMessage() {
            const input = document.getElementById('text');
            if (ws && input.value.trim()) {
                ws.send(JSON.stringify({type: 'message', text: input.value}));
                add('You: ' + input.value, 'mine');
                input.value = '';
            }
        }
    </script>
</body>
</html>`
