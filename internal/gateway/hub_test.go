package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"

	"livechart/internal/model"
	"livechart/internal/rangectl"
	"livechart/internal/series"
	"livechart/internal/surface"
)

const testSecret = "JBSWY3DPEHPK3PXP"

func newTestHub(t *testing.T, auth *GestureAuth) (*Hub, *surface.Surface, *series.Buffer) {
	t.Helper()
	hub := NewHub(auth, 16)
	ctrl := rangectl.New(rangectl.Options{X: model.Range{Min: 0, Max: 10}, Y: model.Range{Min: -1, Max: 1}})
	s := surface.New("sync0", ctrl, surface.Options{MaxMarkers: 5})
	t.Cleanup(s.Close)
	s.AddRenderer(hub)
	hub.Register(s)

	buf := series.New("line", 100)
	s.AddSeries(surface.Series{Name: "line", Buffer: buf})
	return hub, s, buf
}

func TestBuildEnvelope(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	env := buildEnvelope(`we"ird`, []byte(`{"seq":3}`), ts, 9, 4)

	var got struct {
		Type       string          `json:"type"`
		Surface    string          `json:"surface"`
		Data       json.RawMessage `json:"data"`
		TS         string          `json:"ts"`
		Seq        int64           `json:"seq"`
		SurfaceSeq int64           `json:"surface_seq"`
	}
	if err := json.Unmarshal(env, &got); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\n%s", err, env)
	}
	if got.Type != "frame" || got.Surface != `we"ird` || got.Seq != 9 || got.SurfaceSeq != 4 {
		t.Errorf("unexpected envelope %+v", got)
	}
	if string(got.Data) != `{"seq":3}` {
		t.Errorf("data = %s", got.Data)
	}
	if got.TS != "2024-03-01T12:00:00Z" {
		t.Errorf("ts = %s", got.TS)
	}
}

func TestHub_RenderAssignsSurfaceSeq(t *testing.T) {
	hub, _, buf := newTestHub(t, nil)
	before := hub.GetSurfaceSeq("sync0")

	for i := 0; i < 3; i++ {
		buf.Append(model.Sample{X: float64(i), Y: 1})
	}

	if got := hub.GetSurfaceSeq("sync0") - before; got != 3 {
		t.Fatalf("surface seq advanced by %d, want 3", got)
	}
	envs := hub.MissedFrames("sync0", before+1, before+3)
	if len(envs) != 3 {
		t.Fatalf("history returned %d envelopes", len(envs))
	}
	if !strings.Contains(string(envs[2]), `"surface":"sync0"`) {
		t.Errorf("envelope missing surface: %s", envs[2])
	}
	if lag, ok := hub.Lag.Stats("sync0"); !ok || lag.Frames < 3 {
		t.Errorf("frame lag not recorded: %+v", lag)
	}
}

func TestHub_RenderRejectsUnencodableFrame(t *testing.T) {
	hub := NewHub(nil, 4)
	err := hub.Render(context.Background(), model.Frame{Surface: "s", X: model.Range{Min: 0, Max: 1}, Series: []model.SeriesFrame{
		{Name: "nan", Samples: []model.Sample{{X: 0, Y: nan()}}},
	}})
	if err == nil {
		t.Fatal("expected encode error for NaN sample")
	}
	if hub.GetSurfaceSeq("s") != 0 {
		t.Error("failed frame must not consume a seq")
	}
}

func TestHub_Gestures(t *testing.T) {
	hub, s, _ := newTestHub(t, nil)
	var gestures []Gesture
	hub.OnGesture = func(_ string, g Gesture) { gestures = append(gestures, g) }

	if err := hub.SetRange("sync0", model.AxisX, 2, 4, ""); err != nil {
		t.Fatalf("SetRange: %v", err)
	}
	if got := s.Ranges().Range(model.AxisX); got != (model.Range{Min: 2, Max: 4}) {
		t.Errorf("x range = %+v", got)
	}

	err := hub.SetRange("sync0", model.AxisX, 5, 1, "")
	if !errors.Is(err, model.ErrInvalidRange) {
		t.Errorf("expected invalid range, got %v", err)
	}
	if ErrorCode(err) != "invalid_range" {
		t.Errorf("code = %s", ErrorCode(err))
	}

	if err := hub.ZoomExtents("nope", ""); !errors.Is(err, ErrUnknownSurface) {
		t.Errorf("expected unknown surface, got %v", err)
	}
	if err := hub.ZoomExtents("sync0", ""); err != nil {
		t.Fatalf("ZoomExtents: %v", err)
	}

	if len(gestures) != 2 || gestures[0] != GestureSetRange || gestures[1] != GestureZoomExtents {
		t.Errorf("OnGesture saw %v", gestures)
	}
}

func TestGestureAuth(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	auth := NewGestureAuth(testSecret)
	auth.now = func() time.Time { return now }

	code, err := totp.GenerateCode(testSecret, now)
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if err := auth.Check(code); err != nil {
		t.Errorf("valid code rejected: %v", err)
	}
	if err := auth.Check(""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("empty code: %v", err)
	}
	wrong := "123456"
	if wrong == code {
		wrong = "654321"
	}
	if err := auth.Check(wrong); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("wrong code: %v", err)
	}

	stale, _ := totp.GenerateCode(testSecret, now.Add(-5*time.Minute))
	if stale != code {
		if err := auth.Check(stale); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("stale code accepted: %v", err)
		}
	}

	var disabled *GestureAuth
	if err := disabled.Check(""); err != nil {
		t.Errorf("nil auth should allow: %v", err)
	}
	if err := NewGestureAuth("").Check(""); err != nil {
		t.Errorf("empty secret should allow: %v", err)
	}
}

func TestHub_GestureRequiresCode(t *testing.T) {
	auth := NewGestureAuth(testSecret)
	hub, s, _ := newTestHub(t, auth)

	if err := hub.SetRange("sync0", model.AxisY, -3, 3, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	code, _ := totp.GenerateCode(testSecret, time.Now().UTC())
	if err := hub.SetRange("sync0", model.AxisY, -3, 3, code); err != nil {
		t.Fatalf("SetRange with code: %v", err)
	}
	if got := s.Ranges().Range(model.AxisY); got != (model.Range{Min: -3, Max: 3}) {
		t.Errorf("y range = %+v", got)
	}
}

func TestHandlers(t *testing.T) {
	hub, s, buf := newTestHub(t, nil)
	buf.AppendRange([]model.Sample{{X: 0, Y: 0}, {X: 1, Y: 2}})

	mux := http.NewServeMux()
	RegisterRoutes(mux, hub, time.Now())

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"surfaces", http.MethodGet, "/api/surfaces", "", http.StatusOK},
		{"frame", http.MethodGet, "/api/frame?surface=sync0", "", http.StatusOK},
		{"frame unknown", http.MethodGet, "/api/frame?surface=zz", "", http.StatusNotFound},
		{"range ok", http.MethodPost, "/api/range", `{"surface":"sync0","axis":"x","min":0.5,"max":1.5}`, http.StatusOK},
		{"range inverted", http.MethodPost, "/api/range", `{"surface":"sync0","axis":"x","min":3,"max":1}`, http.StatusBadRequest},
		{"range missing max", http.MethodPost, "/api/range", `{"surface":"sync0","axis":"x","min":3}`, http.StatusBadRequest},
		{"range bad axis", http.MethodPost, "/api/range", `{"surface":"sync0","axis":"z","min":0,"max":1}`, http.StatusBadRequest},
		{"range get", http.MethodGet, "/api/range", "", http.StatusMethodNotAllowed},
		{"zoom", http.MethodPost, "/api/zoom_extents", `{"surface":"sync0"}`, http.StatusOK},
		{"zoom unknown", http.MethodPost, "/api/zoom_extents", `{"surface":"x"}`, http.StatusNotFound},
		{"missed bad", http.MethodGet, "/api/frames/missed?surface=sync0&from=5&to=1", "", http.StatusBadRequest},
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"metrics", http.MethodGet, "/api/metrics", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
		})
	}

	// zoom_extents above fitted the data.
	if got := s.Ranges().Range(model.AxisX); got.Min != 0 || got.Max != 1 {
		t.Errorf("x after zoom = %+v", got)
	}
}

func TestHandlers_MissedFrames(t *testing.T) {
	hub, _, buf := newTestHub(t, nil)
	mux := http.NewServeMux()
	RegisterRoutes(mux, hub, time.Now())

	start := hub.GetSurfaceSeq("sync0")
	for i := 0; i < 4; i++ {
		buf.Append(model.Sample{X: float64(i)})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/frames/missed?surface=sync0&from="+itoa(start+2)+"&to="+itoa(start+3), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var envs []struct {
		SurfaceSeq int64 `json:"surface_seq"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envs); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body.String())
	}
	if len(envs) != 2 || envs[0].SurfaceSeq != start+2 || envs[1].SurfaceSeq != start+3 {
		t.Errorf("missed frames = %+v", envs)
	}
}

func TestWebSocket_SubscribeAndGestures(t *testing.T) {
	hub, _, buf := newTestHub(t, nil)
	buf.Append(model.Sample{X: 1, Y: 1})

	mux := http.NewServeMux()
	RegisterRoutes(mux, hub, time.Now())
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dial(t, srv.URL)

	// Initial state carries the latest frame.
	if m := conn.readUntil(t, isType("frame")); m["surface"] != "sync0" {
		t.Errorf("initial frame surface = %v", m["surface"])
	}

	conn.send(t, `{"type":"subscribe","req_id":"s1","surface":"sync0"}`)
	conn.readUntil(t, isReply("ack", "s1"))

	conn.send(t, `{"type":"set_range","req_id":"r1","surface":"sync0","axis":"x","min":4,"max":2}`)
	m := conn.readUntil(t, isReply("error", "r1"))
	if m["code"] != "invalid_range" {
		t.Errorf("error code = %v", m["code"])
	}

	// The redraw is queued before the ack; accept them in either order.
	conn.send(t, `{"type":"set_range","req_id":"r2","surface":"sync0","axis":"x","min":0,"max":50}`)
	got := conn.readAll(t, isReply("ack", "r2"), frameWithXMax(50))
	if got[1]["surface"] != "sync0" {
		t.Errorf("frame surface = %v", got[1]["surface"])
	}

	conn.send(t, `{"type":"subscribe","req_id":"s2","surface":"missing"}`)
	if m := conn.readUntil(t, isReply("error", "s2")); m["code"] != "unknown_surface" {
		t.Errorf("code = %v", m["code"])
	}

	conn.send(t, `{"ping":42}`)
	if m := conn.readUntil(t, isType("pong")); m["ping"] != 42.0 {
		t.Errorf("pong = %v", m)
	}
}

func TestWebSocket_SubscribeSinceReportsGap(t *testing.T) {
	hub, _, buf := newTestHub(t, nil) // history holds 16 frames
	for i := 0; i < 40; i++ {
		buf.Append(model.Sample{X: float64(i), Y: 1})
	}
	cur := hub.GetSurfaceSeq("sync0")

	mux := http.NewServeMux()
	RegisterRoutes(mux, hub, time.Now())
	srv := httptest.NewServer(mux)
	defer srv.Close()
	conn := dial(t, srv.URL)

	conn.send(t, `{"type":"subscribe","req_id":"s1","surface":"sync0","since":2}`)
	got := conn.readAll(t, isReply("gap", "s1"), func(m map[string]interface{}) bool {
		return m["type"] == "frame" && m["surface_seq"] == float64(cur)
	})
	gap := got[0]
	if gap["from"] != 3.0 || gap["to"] != float64(cur-16) {
		t.Errorf("gap = %v, want from 3 to %d", gap, cur-16)
	}
}

func TestHub_Stats(t *testing.T) {
	hub, _, buf := newTestHub(t, nil)
	buf.AppendRange([]model.Sample{{X: 0, Y: 0}, {X: 1, Y: 1}})
	buf.Append(model.Sample{X: 2, Y: 2})

	st := hub.Stats(time.Now().Add(-time.Minute))
	ss, ok := st.Surfaces["sync0"]
	if !ok {
		t.Fatalf("no stats for sync0: %+v", st)
	}
	if ss.Seq != hub.GetSurfaceSeq("sync0") || ss.HeldFrames != int(ss.Seq) || ss.OldestHeld != 1 {
		t.Errorf("surface stats = %+v", ss)
	}
	if ss.Lag.Frames == 0 || ss.Lag.Frames > uint64(ss.Seq) {
		t.Errorf("lag frames = %d for %d frames", ss.Lag.Frames, ss.Seq)
	}
	if st.UptimeSec < 59 || st.Clients != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestClient_SubscribedFilter(t *testing.T) {
	c := &Client{subs: map[string]bool{}}
	if !c.subscribed("a") {
		t.Error("client without subscriptions receives everything")
	}
	c.subs["a"] = true
	if !c.subscribed("a") || c.subscribed("b") {
		t.Error("subscription filter wrong")
	}
}

func isType(typ string) func(map[string]interface{}) bool {
	return func(m map[string]interface{}) bool { return m["type"] == typ }
}

func isReply(typ, reqID string) func(map[string]interface{}) bool {
	return func(m map[string]interface{}) bool {
		return m["type"] == typ && m["req_id"] == reqID
	}
}

func frameWithXMax(max float64) func(map[string]interface{}) bool {
	return func(m map[string]interface{}) bool {
		if m["type"] != "frame" {
			return false
		}
		data, _ := m["data"].(map[string]interface{})
		x, _ := data["x"].(map[string]interface{})
		return x["max"] == max
	}
}

// wsConn splits coalesced websocket messages and keeps lines not yet consumed.
type wsConn struct {
	conn    *websocket.Conn
	pending []map[string]interface{}
}

func dial(t *testing.T, url string) *wsConn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &wsConn{conn: conn}
}

func (c *wsConn) send(t *testing.T, msg string) {
	t.Helper()
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (c *wsConn) next(t *testing.T, deadline time.Time) map[string]interface{} {
	t.Helper()
	for len(c.pending) == 0 {
		c.conn.SetReadDeadline(deadline)
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			var m map[string]interface{}
			if json.Unmarshal(line, &m) == nil {
				c.pending = append(c.pending, m)
			}
		}
	}
	m := c.pending[0]
	c.pending = c.pending[1:]
	return m
}

// readUntil discards messages until match returns true.
func (c *wsConn) readUntil(t *testing.T, match func(map[string]interface{}) bool) map[string]interface{} {
	t.Helper()
	return c.readAll(t, match)[0]
}

// readAll reads until every matcher has matched one message, in any order.
// The result is indexed like matchers.
func (c *wsConn) readAll(t *testing.T, matchers ...func(map[string]interface{}) bool) []map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	got := make([]map[string]interface{}, len(matchers))
	left := len(matchers)
	for left > 0 {
		m := c.next(t, deadline)
		for i, match := range matchers {
			if got[i] == nil && match(m) {
				got[i] = m
				left--
				break
			}
		}
	}
	return got
}
