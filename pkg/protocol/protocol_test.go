package protocol

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Message
		wantErr bool
	}{
		{in: "VOX:ok:lamp:VERTEX", want: Message{To: "VOX", Verb: "OK", Noun: "LAMP", Args: []string{}, From: "VERTEX"}},
		{in: "ALL:SET:TEMP:21:5:0A", want: Message{To: "ALL", Verb: "SET", Noun: "TEMP", Args: []string{"21", "5"}, From: "0A"}},
		{in: "  VOX:ERR:BUSY:HUB\n", want: Message{To: "VOX", Verb: "ERR", Noun: "BUSY", Args: []string{}, From: "HUB"}},
		{in: "", wantErr: true},
		{in: "VOX:OK:HUB", wantErr: true},
		{in: "VOX:OK:LAMP ON:HUB", wantErr: true},
		{in: "VOX:OK:L@MP:HUB", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tc.in)
			if tc.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Errorf("err = %v, want ErrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.To != tc.want.To || got.Verb != tc.want.Verb || got.Noun != tc.want.Noun ||
				got.From != tc.want.From || !slices.Equal(got.Args, tc.want.Args) {
				t.Errorf("Parse = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestMessage_StringAndReply(t *testing.T) {
	t.Parallel()

	m := Message{To: "VERTEX", Verb: "ON", Noun: "LAMP", From: "VOX"}
	if got := m.String(); got != "VERTEX:ON:LAMP:VOX" {
		t.Errorf("String = %q", got)
	}
	r := m.Reply(false, "OFFLINE")
	if r.String() != "VOX:ERR:OFFLINE:VERTEX" || r.IsOK() {
		t.Errorf("Reply = %q", r.String())
	}
}

// fakeHub answers every request with an OK reply to the sender, then pushes
// an unsolicited event.
func fakeHub(t *testing.T) *httptest.Server {
	t.Helper()
	up := ws.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			req, err := Parse(string(frame))
			if err != nil {
				continue
			}
			_ = conn.WriteMessage(ws.TextMessage, []byte("OTHER:OK:NOISE:HUB"))
			_ = conn.WriteMessage(ws.TextMessage, []byte(req.Reply(true, req.Noun).String()))
			_ = conn.WriteMessage(ws.TextMessage, []byte(req.From+":REPORT:TEMP:21:THERMO"))
		}
	}))
}

func TestClient_RequestAndPush(t *testing.T) {
	t.Parallel()

	srv := fakeHub(t)
	defer srv.Close()

	pushed := make(chan Message, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, Config{
		Shard:     "VOX",
		URL:       "ws" + strings.TrimPrefix(srv.URL, "http"),
		Timeout:   2 * time.Second,
		OnMessage: func(m Message) { pushed <- m },
	})
	if err != nil {
		t.Fatal(err)
	}
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	resp, err := c.Request(ctx, Message{To: "VERTEX", Verb: "ON", Noun: "LAMP"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.IsOK() || resp.Noun != "LAMP" || resp.From != "VERTEX" {
		t.Errorf("response = %+v", resp)
	}

	select {
	case m := <-pushed:
		if m.Noun != "TEMP" || !slices.Equal(m.Args, []string{"21"}) {
			t.Errorf("pushed = %+v", m)
		}
	case <-ctx.Done():
		t.Fatal("no unsolicited message delivered")
	}

	if err := c.Close(); err != nil {
		t.Logf("close: %v", err)
	}
	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	if _, err := c.Request(ctx, Message{To: "VERTEX", Verb: "ON", Noun: "LAMP"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Request after Close = %v", err)
	}
}

func TestSend_RejectsInvalid(t *testing.T) {
	t.Parallel()

	c := &Client{cfg: Config{Shard: "VOX", Timeout: time.Second}, done: make(chan struct{})}
	if err := c.Send(context.Background(), Message{To: "VERTEX", Verb: "ON", Noun: "two words"}); !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v", err)
	}
}
