// cmd/client/main.go
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/bidwire/goofspiel/internal/handlers"
	"github.com/bidwire/goofspiel/internal/models"
	"github.com/bidwire/goofspiel/internal/reactor"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	name := flag.String("name", "Player", "display name")
	create := flag.Bool("new", false, "create a session and wait for an opponent")
	join := flag.String("join", "", "join a session by code")
	queue := flag.Bool("queue", false, "matchmake against a queued opponent")
	flag.Parse()

	base, err := url.Parse(*server)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad server URL: %v\n", err)
		os.Exit(1)
	}

	cl, err := newClient(base)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()

	var gameID string
	resumed := false
	switch {
	case *create:
		gameID, err = cl.createSession(ctx, *name)
		if err == nil {
			fmt.Printf("Session created. Your opponent joins with code %s\n", gameID)
		}
	case *join != "":
		gameID = strings.ToUpper(*join)
	case *queue:
		gameID, err = cl.matchmake(ctx, *name)
	default:
		var rec *reactor.ResumeRecord
		rec, err = cl.resume.Load()
		if err == nil && rec == nil {
			fmt.Fprintln(os.Stderr, "nothing to resume; use -new, -join CODE or -queue")
			os.Exit(2)
		}
		if rec != nil {
			fmt.Printf("Resuming game %s as %s\n", rec.GameID, rec.Role)
			gameID = rec.GameID
			resumed = true
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	commands := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			commands <- strings.TrimSpace(sc.Text())
		}
	}()

	// rematches chain into the successor session
	for gameID != "" {
		next, err := cl.play(ctx, gameID, *name, commands)
		if err != nil {
			if resumed {
				// a resume pointer at a dead session only causes reconnect loops
				cl.resume.Clear()
			}
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		gameID = next
		resumed = false
	}
}

// client holds the HTTP identity (a cookie persisted across runs, so rejoins
// land on the same seat) and the resume pointer.
type client struct {
	base      *url.URL
	http      *http.Client
	tokenPath string
	resume    *reactor.ResumeFile
}

func newClient(base *url.URL) (*client, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}
	dir = filepath.Join(dir, "goofspiel")
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	c := &client{
		base:      base,
		http:      &http.Client{Jar: jar},
		tokenPath: filepath.Join(dir, "token"),
		resume:    reactor.NewResumeFile(filepath.Join(dir, "resume.json"), reactor.DefaultResumeWindow),
	}
	if raw, err := os.ReadFile(c.tokenPath); err == nil {
		jar.SetCookies(base, []*http.Cookie{{Name: "auth_token", Value: strings.TrimSpace(string(raw))}})
	}
	return c, nil
}

func (c *client) saveToken() {
	for _, ck := range c.http.Jar.Cookies(c.base) {
		if ck.Name == "auth_token" {
			_ = os.MkdirAll(filepath.Dir(c.tokenPath), 0o700)
			_ = os.WriteFile(c.tokenPath, []byte(ck.Value), 0o600)
		}
	}
}

func (c *client) wsURL(path string, query url.Values) string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = path
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *client) createSession(ctx context.Context, name string) (string, error) {
	body, _ := json.Marshal(map[string]string{"name": name})
	target := c.base.ResolveReference(&url.URL{Path: "/session/create"}).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	c.saveToken()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create session: %s", resp.Status)
	}
	var out struct {
		GameID string `json:"gameId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.GameID, nil
}

func (c *client) matchmake(ctx context.Context, name string) (string, error) {
	conn, resp, err := websocket.Dial(ctx, c.wsURL("/queue/ws", url.Values{"name": {name}}), &websocket.DialOptions{
		HTTPClient:   c.http,
		Subprotocols: []string{"goofspiel"},
	})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return "", fmt.Errorf("queue: %w", err)
	}
	defer conn.Close(websocket.StatusInternalError, "client error")
	c.saveToken()

	fmt.Println("Searching for an opponent...")
	var msg handlers.QueueMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		return "", fmt.Errorf("queue: %w", err)
	}
	if msg.Error != "" {
		return "", errors.New(msg.Error)
	}
	fmt.Printf("Matched into game %s as %s\n", msg.GameID, msg.Role)
	conn.Close(websocket.StatusNormalClosure, "matched")
	return msg.GameID, nil
}

// play runs one session over its websocket. It returns the successor game id
// when an accepted rematch chains into a new session, or "" when the player
// is done.
func (c *client) play(ctx context.Context, gameID, name string, commands <-chan string) (string, error) {
	conn, resp, err := websocket.Dial(ctx, c.wsURL("/session/ws/"+gameID, url.Values{"name": {name}}), &websocket.DialOptions{
		HTTPClient:   c.http,
		Subprotocols: []string{"goofspiel"},
	})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return "", fmt.Errorf("connect %s: %w", gameID, err)
	}
	defer conn.Close(websocket.StatusInternalError, "client error")
	c.saveToken()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	incoming := make(chan handlers.ServerMessage, 8)
	readErr := make(chan error, 1)
	go func() {
		for {
			var msg handlers.ServerMessage
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				readErr <- err
				return
			}
			incoming <- msg
		}
	}()

	saved := false
	for {
		select {
		case err := <-readErr:
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return "", nil
			}
			return "", err
		case line := <-commands:
			msg, quit := parseCommand(line)
			if quit {
				c.resume.Clear()
				conn.Close(websocket.StatusNormalClosure, "bye")
				return "", nil
			}
			if msg != nil {
				if err := wsjson.Write(ctx, conn, *msg); err != nil {
					return "", err
				}
			}
		case m := <-incoming:
			if m.Error != "" {
				fmt.Printf("server: %s\n", m.Error)
			}
			if m.Type != "state" || m.State == nil {
				continue
			}
			d := *m.State
			render(d)
			if d.Status.Terminal() {
				c.resume.Clear()
				if d.Rematch.Accepted && d.Rematch.NewGameID != "" {
					conn.Close(websocket.StatusNormalClosure, "rematch")
					return d.Rematch.NewGameID, nil
				}
			} else if !saved {
				_ = c.resume.Save(gameID, string(d.Role))
				saved = true
			}
		}
	}
}

func parseCommand(line string) (*handlers.ClientMessage, bool) {
	switch strings.ToLower(line) {
	case "":
		return nil, false
	case "q", "quit":
		return nil, true
	case "f", "forfeit":
		return &handlers.ClientMessage{Type: "forfeit"}, false
	case "r", "rematch":
		return &handlers.ClientMessage{Type: "rematch_request"}, false
	case "n", "no":
		return &handlers.ClientMessage{Type: "rematch_decline"}, false
	}
	if rank, err := strconv.Atoi(line); err == nil {
		return &handlers.ClientMessage{Type: "bid", Rank: rank}, false
	}
	fmt.Println("commands: <rank> to bid, f forfeit, r rematch, n decline, q quit")
	return nil, false
}

func render(d reactor.DisplayState) {
	if d.Status == models.StatusWaiting {
		fmt.Printf("Waiting for an opponent... code %s\n", d.GameID)
		return
	}

	prize := "-"
	if d.CurrentPrize != nil {
		prize = strconv.Itoa(*d.CurrentPrize)
	}
	fmt.Printf("\n[%s] round %d  prize %s  (%d left)\n", d.Status, d.Round, prize, d.PrizesLeft)
	fmt.Printf("  you  %-12s score %3d  time %4d  hand %v\n", d.You.Name, d.You.Score, d.You.Time, d.You.Hand)
	oppBid := ""
	switch {
	case d.Opponent.Bid != nil:
		oppBid = fmt.Sprintf("  bid %d", *d.Opponent.Bid)
	case d.Opponent.HasBid:
		oppBid = "  bid placed"
	}
	fmt.Printf("  them %-12s score %3d  time %4d  %d cards%s\n",
		d.Opponent.Name, d.Opponent.Score, d.Opponent.Time, d.Opponent.HandCount, oppBid)
	if !d.OpponentOnline && d.Status == models.StatusPlaying {
		fmt.Println("  opponent is offline")
	}
	if d.Log != nil {
		fmt.Printf("  >> %s\n", d.Log.Msg)
	}

	if d.Status == models.StatusEnd {
		fmt.Printf("Game over: %s. r = rematch, n = decline, q = quit\n", d.Outcome)
		if d.Rematch.OpponentAsks && !d.Rematch.Accepted {
			fmt.Println("Your opponent wants a rematch.")
		}
		if d.OpponentLeft {
			fmt.Println("Your opponent left.")
		}
	}
}
