package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"livechart/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// SurfaceInfo is one entry of GET /api/surfaces.
type SurfaceInfo struct {
	ID     string      `json:"id"`
	Seq    int64       `json:"seq"`
	X      model.Range `json:"x"`
	Y      model.Range `json:"y"`
	Points int         `json:"points"`
}

// RangeRequest is the body of POST /api/range.
type RangeRequest struct {
	Surface string   `json:"surface"`
	Axis    string   `json:"axis"`
	Min     *float64 `json:"min"`
	Max     *float64 `json:"max"`
	OTP     string   `json:"otp,omitempty"`
}

// ZoomRequest is the body of POST /api/zoom_extents.
type ZoomRequest struct {
	Surface string `json:"surface"`
	OTP     string `json:"otp,omitempty"`
}

// RegisterRoutes registers all HTTP routes on the provided mux.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, processStart time.Time) {
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		hub.HandleWSRequest(conn)
	})

	mux.HandleFunc("/api/surfaces", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		out := make([]SurfaceInfo, 0)
		for _, id := range hub.SurfaceIDs() {
			c, err := hub.control(id)
			if err != nil {
				continue
			}
			f := c.Frame()
			out = append(out, SurfaceInfo{
				ID:     id,
				Seq:    hub.GetSurfaceSeq(id),
				X:      f.X,
				Y:      f.Y,
				Points: f.Points(),
			})
		}
		json.NewEncoder(w).Encode(out)
	})

	// Current frame, built on demand.
	mux.HandleFunc("/api/frame", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		c, err := hub.control(r.URL.Query().Get("surface"))
		if err != nil {
			writeError(w, err)
			return
		}
		json.NewEncoder(w).Encode(c.Frame())
	})

	mux.HandleFunc("/api/range", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
			return
		}
		var req RangeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errBadRequest("invalid JSON"))
			return
		}
		axis, err := model.ParseAxis(req.Axis)
		if err != nil {
			writeError(w, errBadRequest(err.Error()))
			return
		}
		if req.Min == nil || req.Max == nil {
			writeError(w, errBadRequest("min and max are required"))
			return
		}
		if err := hub.SetRange(req.Surface, axis, *req.Min, *req.Max, req.OTP); err != nil {
			writeError(w, err)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/api/zoom_extents", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
			return
		}
		var req ZoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errBadRequest("invalid JSON"))
			return
		}
		if err := hub.ZoomExtents(req.Surface, req.OTP); err != nil {
			writeError(w, err)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	// Gap backfill: frames in [from, to] still held in the surface history.
	// Responds with a JSON array of frame envelopes.
	mux.HandleFunc("/api/frames/missed", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		q := r.URL.Query()
		surface := q.Get("surface")
		from, err1 := strconv.ParseInt(q.Get("from"), 10, 64)
		to, err2 := strconv.ParseInt(q.Get("to"), 10, 64)
		if surface == "" || err1 != nil || err2 != nil || from > to {
			writeError(w, errBadRequest("surface, from and to are required"))
			return
		}
		envs := hub.MissedFrames(surface, from, to)
		buf := make([]byte, 0, 1024)
		buf = append(buf, '[')
		for i, e := range envs {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = append(buf, e...)
		}
		buf = append(buf, ']')
		w.Write(buf)
	})

	mux.HandleFunc("/api/metrics", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hub.Stats(processStart))
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "ok",
			"surfaces":   hub.SurfaceIDs(),
			"ws_clients": hub.ClientCount(),
			"uptime_sec": int64(time.Since(processStart).Seconds()),
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}

func writeError(w http.ResponseWriter, err error) {
	code := ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case "invalid_range", "bad_request":
		status = http.StatusBadRequest
	case "unknown_surface":
		status = http.StatusNotFound
	case "unauthorized":
		status = http.StatusUnauthorized
	case "closed":
		status = http.StatusConflict
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"code": code, "error": err.Error()})
}
