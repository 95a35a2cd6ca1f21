// Giftbox Gift Swap
//
// Participants join a session identified by a short hiragana code, each
// writes a private gift message, and the server deals out a secret
// assignment in which everyone gives to exactly one other person and
// nobody draws themselves. The host then walks the group through the
// reveals one pair at a time.
//
// Features:
// - One WebSocket endpoint at /ws/gift; sessions addressed by code in each action
// - The connection that creates a session is its host
// - Host drives the phases: lobby -> write -> reveal -> done
// - Fixed-point-free random assignment (derangement) over the join order
// - Reveal steps carry shared start timestamps so every client animates in sync
// - Gift bodies delivered only to their recipient's connection
// - Submission chime broadcast cycles 1, 2, 3 on first-time submissions
// - Host disconnect closes the session; participant disconnect removes them
// - In-browser QR button to share the current session, backed by go-qrcode

package main

import (
	_ "embed"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// clientAction is the single inbound frame shape; fields beyond action
// and seq are read per action.
type clientAction struct {
	Action string `json:"action"`
	Seq    int64  `json:"seq,omitempty"`
	Code   string `json:"code,omitempty"`
	UserID string `json:"userId,omitempty"`
	Name   string `json:"name,omitempty"`
	Title  string `json:"title,omitempty"`
	Body   string `json:"body,omitempty"`
}

// ackMessage answers exactly one clientAction, correlated by seq. The
// echo is always present so a client starting at seq 0 can still match
// it. A failed action reports its error code here and nowhere else.
type ackMessage struct {
	Type   string    `json:"type"` // "ack"
	Action string    `json:"action"`
	Seq    int64     `json:"seq"`
	OK     bool      `json:"ok"`
	Error  string    `json:"error,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Code   string    `json:"code,omitempty"`   // create-session
	Room   *roomView `json:"room,omitempty"`   // join-session
	UserID string    `json:"userId,omitempty"` // join-session
	IsHost bool      `json:"isHost,omitempty"` // join-session
}

type roomUpdateMessage struct {
	Type string   `json:"type"` // "room-update"
	Room roomView `json:"room"`
}

type rouletteStepMessage struct {
	Type string `json:"type"` // "roulette-step"
	stepView
}

type submitChimeMessage struct {
	Type string `json:"type"` // "submit-chime"
	Idx  int    `json:"idx"`  // cycles 1, 2, 3
}

type openedNoticeMessage struct {
	Type     string `json:"type"` // "opened-notice"
	FromName string `json:"fromName"`
	ToName   string `json:"toName"`
	Title    string `json:"title"`
	Step     int    `json:"step"`
	Total    int    `json:"total"`
}

// privateRevealMessage is the only message that ever carries a gift body.
type privateRevealMessage struct {
	Type     string `json:"type"` // "private-reveal"
	FromName string `json:"fromName"`
	Title    string `json:"title"`
	Body     string `json:"body"`
}

type confettiTriggerMessage struct {
	Type    string `json:"type"` // "confetti-trigger"
	StartAt int64  `json:"startAt"`
	Seed    uint32 `json:"seed"`
}

type simpleMessage struct {
	Type string `json:"type"` // "session-closed" / "session-done"
}

type actionRequest struct {
	client *client
	msg    clientAction
}

type client struct {
	conn   *websocket.Conn
	send   chan any
	connID string
	rooms  map[string]struct{} // session codes joined; hub goroutine only
}

// hub serializes every action across all sessions on a single goroutine,
// so handlers mutate sessions without locks and the broadcasts for one
// action are always emitted before the next action is processed.
type hub struct {
	cfg      *Config
	registry *registry

	register chan *client
	unreg    chan *client
	actions  chan actionRequest

	clients map[*client]bool

	now func() time.Time
}

func newHub(cfg *Config) *hub {
	return &hub{
		cfg:      cfg,
		registry: newRegistry(cfg.codeLength),
		register: make(chan *client),
		unreg:    make(chan *client),
		actions:  make(chan actionRequest),
		clients:  make(map[*client]bool),
		now:      time.Now,
	}
}

func (h *hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true

		case c := <-h.unreg:
			h.handleDisconnect(c)

		case req := <-h.actions:
			h.handleAction(req)
		}
	}
}

// trySend never blocks the hub; a client that cannot keep up is dropped.
func (h *hub) trySend(c *client, msg any) {
	if !h.clients[c] {
		return
	}

	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) broadcast(code string, msg any) {
	for c := range h.clients {
		if _, ok := c.rooms[code]; ok {
			h.trySend(c, msg)
		}
	}
}

func (h *hub) broadcastRoom(s *session) {
	h.broadcast(s.code, roomUpdateMessage{
		Type: "room-update",
		Room: projectRoom(s),
	})
}

func (h *hub) emitRoulette(s *session) {
	step := currentStep(s)
	if step == nil {
		return
	}

	h.broadcast(s.code, rouletteStepMessage{
		Type:     "roulette-step",
		stepView: *step,
	})
}

func (h *hub) ack(c *client, msg clientAction, aerr *actionError, fill func(*ackMessage)) {
	a := ackMessage{
		Type:   "ack",
		Action: msg.Action,
		Seq:    msg.Seq,
		OK:     aerr == nil,
	}

	if aerr != nil {
		a.Error = aerr.Code
		a.Detail = aerr.Detail
	} else if fill != nil {
		fill(&a)
	}

	h.trySend(c, a)
}

func (h *hub) handleAction(req actionRequest) {
	c := req.client
	if !h.clients[c] {
		return
	}

	switch req.msg.Action {
	case "create-session":
		h.createSession(c, req.msg)
	case "join-session":
		h.joinSession(c, req.msg)
	case "start-session":
		h.startSession(c, req.msg)
	case "submit-gift":
		h.submitGift(c, req.msg)
	case "begin-pairing":
		h.beginPairing(c, req.msg)
	case "open-reveal":
		h.openReveal(c, req.msg)
	case "advance-reveal":
		h.advanceReveal(c, req.msg)
	case "close-session":
		h.closeSession(c, req.msg)
	case "leave-session":
		h.leaveSession(c, req.msg)
	default:
		// ignore unknown actions
	}
}

func (h *hub) createSession(c *client, msg clientAction) {
	s := h.registry.create(c.connID)

	logf(h.cfg, "GAMES: Created session %s", s.code)

	h.ack(c, msg, nil, func(a *ackMessage) {
		a.Code = s.code
	})
}

func (h *hub) joinSession(c *client, msg clientAction) {
	s, aerr := h.registry.lookup(normalizeCode(msg.Code))
	if aerr != nil {
		h.ack(c, msg, aerr, nil)
		return
	}

	c.rooms[s.code] = struct{}{}
	p := s.join(c.connID, msg.Name)

	logf(h.cfg, "GAMES: %q joined session %s", p.name, s.code)

	room := projectRoom(s)
	h.ack(c, msg, nil, func(a *ackMessage) {
		a.Room = &room
		a.UserID = p.id
		a.IsHost = s.isHost(c.connID)
	})
	h.broadcastRoom(s)
}

func (h *hub) startSession(c *client, msg clientAction) {
	s, aerr := h.registry.lookup(normalizeCode(msg.Code))
	if aerr == nil {
		aerr = s.start(c.connID)
	}
	if aerr != nil {
		h.ack(c, msg, aerr, nil)
		return
	}

	h.broadcastRoom(s)
	h.ack(c, msg, nil, nil)
}

func (h *hub) submitGift(c *client, msg clientAction) {
	s, aerr := h.registry.lookup(normalizeCode(msg.Code))
	if aerr != nil {
		h.ack(c, msg, aerr, nil)
		return
	}

	chimeIdx, aerr := s.submit(msg.UserID, msg.Title, msg.Body)
	if aerr != nil {
		h.ack(c, msg, aerr, nil)
		return
	}

	if chimeIdx > 0 {
		h.broadcast(s.code, submitChimeMessage{
			Type: "submit-chime",
			Idx:  chimeIdx,
		})
	}

	h.broadcastRoom(s)
	h.ack(c, msg, nil, nil)
}

func (h *hub) beginPairing(c *client, msg clientAction) {
	s, aerr := h.registry.lookup(normalizeCode(msg.Code))
	if aerr == nil {
		aerr = s.beginPairing(c.connID, h.now())
	}
	if aerr != nil {
		h.ack(c, msg, aerr, nil)
		return
	}

	logf(h.cfg, "GAMES: Session %s paired %d gifts", s.code, s.users.len())

	h.broadcastRoom(s)
	h.emitRoulette(s)
	h.ack(c, msg, nil, nil)
}

func (h *hub) openReveal(c *client, msg clientAction) {
	s, aerr := h.registry.lookup(normalizeCode(msg.Code))
	if aerr != nil {
		h.ack(c, msg, aerr, nil)
		return
	}

	res, aerr := s.openReveal(msg.UserID, h.now())
	if aerr != nil {
		h.ack(c, msg, aerr, nil)
		return
	}

	h.broadcast(s.code, openedNoticeMessage{
		Type:     "opened-notice",
		FromName: res.fromName,
		ToName:   res.toName,
		Title:    res.title,
		Step:     res.step,
		Total:    res.total,
	})

	// Body goes to the recipient's connection only.
	for member := range h.clients {
		if _, ok := member.rooms[s.code]; !ok {
			continue
		}
		if member.connID != res.toConnID {
			continue
		}
		h.trySend(member, privateRevealMessage{
			Type:     "private-reveal",
			FromName: res.fromName,
			Title:    res.title,
			Body:     res.body,
		})
	}

	h.broadcast(s.code, confettiTriggerMessage{
		Type:    "confetti-trigger",
		StartAt: res.confettiAt,
		Seed:    res.seed,
	})

	h.broadcastRoom(s)
	h.ack(c, msg, nil, nil)
}

func (h *hub) advanceReveal(c *client, msg clientAction) {
	s, aerr := h.registry.lookup(normalizeCode(msg.Code))
	if aerr != nil {
		h.ack(c, msg, aerr, nil)
		return
	}

	done, aerr := s.advance(c.connID, h.now())
	if aerr != nil {
		h.ack(c, msg, aerr, nil)
		return
	}

	h.broadcastRoom(s)

	if done {
		h.broadcast(s.code, simpleMessage{Type: "session-done"})
	} else {
		h.emitRoulette(s)
	}

	h.ack(c, msg, nil, nil)
}

func (h *hub) closeSession(c *client, msg clientAction) {
	s, aerr := h.registry.lookup(normalizeCode(msg.Code))
	if aerr != nil {
		h.ack(c, msg, aerr, nil)
		return
	}
	if !s.isHost(c.connID) {
		h.ack(c, msg, errNotHost, nil)
		return
	}

	h.teardown(s)
	h.ack(c, msg, nil, nil)
}

func (h *hub) leaveSession(c *client, msg clientAction) {
	s, aerr := h.registry.lookup(normalizeCode(msg.Code))
	if aerr != nil {
		h.ack(c, msg, aerr, nil)
		return
	}

	// The host leaving takes the whole session with it.
	if s.isHost(c.connID) {
		h.teardown(s)
		h.ack(c, msg, nil, nil)
		return
	}

	s.users.remove(msg.UserID)
	delete(c.rooms, s.code)

	h.broadcastRoom(s)
	h.ack(c, msg, nil, nil)
}

// teardown notifies members and deletes the session from the registry.
func (h *hub) teardown(s *session) {
	for c := range h.clients {
		if _, ok := c.rooms[s.code]; !ok {
			continue
		}
		h.trySend(c, simpleMessage{Type: "session-closed"})
		delete(c.rooms, s.code)
	}

	h.registry.delete(s.code)

	logf(h.cfg, "GAMES: Closed session %s", s.code)
}

// handleDisconnect implicitly closes sessions hosted by the connection
// and removes its participants everywhere else. The registry sweep runs
// even when trySend already dropped the client, since its sessions and
// participants outlive the send channel.
func (h *hub) handleDisconnect(c *client) {
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}

	var hosted []*session
	h.registry.each(func(s *session) {
		if s.hostConnID == c.connID {
			hosted = append(hosted, s)
			return
		}
		if s.users.removeConn(c.connID) > 0 {
			h.broadcastRoom(s)
		}
	})

	for _, s := range hosted {
		h.teardown(s)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveWS(cfg *Config, h *hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		c := &client{
			conn:   conn,
			send:   make(chan any, 16),
			connID: genConnID(),
			rooms:  make(map[string]struct{}),
		}

		h.register <- c

		go c.writePump()
		c.readPump(h)
	}
}

func (c *client) readPump(h *hub) {
	defer func() {
		h.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		var msg clientAction
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		h.actions <- actionRequest{
			client: c,
			msg:    msg,
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current session URL.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code := ps.ByName("code")
	if code == "" {
		http.Error(w, "missing session code", http.StatusBadRequest)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:code/qr; strip trailing "/qr" to get the session URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed giftswap/index.html
var indexHTML []byte

//go:embed giftswap/app.css
var giftswapCSS []byte

//go:embed giftswap/app.js
var giftswapJS []byte

func getIndexHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(indexHTML)
	}
}

func getCssHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(giftswapCSS)
	}
}

func getJsHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(giftswapJS)
	}
}

// registerGiftSwap sets up routes so that:
//   - $path             → HTML client (create or join by code)
//   - $path/:code       → HTML client with the code prefilled
//   - $path/:code/qr    → PNG QR code for that session URL
//   - /ws/gift          → shared WebSocket endpoint for all sessions
func registerGiftSwap(cfg *Config, path string, mux *httprouter.Router) {
	h := newHub(cfg)
	go h.run()

	mux.GET(cfg.prefix+path, getIndexHandler(cfg))

	mux.GET(cfg.prefix+path+"/:code", getIndexHandler(cfg))

	mux.GET(cfg.prefix+path+"/:code/qr", qrHandler)

	// Shared assets (no code in route)
	mux.GET(cfg.prefix+"/assets/giftswap/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/giftswap/app.js", getJsHandler(cfg))

	mux.GET(cfg.prefix+"/ws/gift", serveWS(cfg, h))
}
