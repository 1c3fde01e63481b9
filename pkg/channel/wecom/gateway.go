package wecom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"wecomgw/pkg/bus"
	"wecomgw/pkg/channel"
	"wecomgw/pkg/config"
)

const channelName = "wecom"

const (
	defaultListen   = "0.0.0.0:18791"
	ackBody         = "success"
	maxBodySize     = 1 << 20
	syncWaitTimeout = 120 * time.Second
)

// ImageClient generates or edits an image and returns the saved file path.
type ImageClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Edit(ctx context.Context, imagePath, prompt string) (string, error)
}

// Options bundles everything a Gateway needs. Collaborators are passed in
// explicitly; there is no process-global runtime handle.
type Options struct {
	Config    config.WecomConfig
	Workspace string
	Images    ImageClient
	Log       *slog.Logger
}

// Gateway is the WeCom webhook channel adapter: it terminates the platform's
// signed/encrypted HTTP callbacks, acknowledges them inside the platform's
// response-time budget, and continues all heavy work after the ack.
type Gateway struct {
	cfg       config.WecomConfig
	log       *slog.Logger
	queue     *bus.Queue
	dedupe    *seenSet
	workspace string
	images    ImageClient

	senders  map[string]Sender
	fetchers map[string]MediaFetcher

	resolver channel.Resolver
	baseCtx  context.Context
	server   *http.Server
}

func New(opts Options) (*Gateway, error) {
	if strings.TrimSpace(opts.Workspace) == "" {
		return nil, errors.New("workspace is required")
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "channel.wecom")

	cfg := opts.Config
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = defaultListen
	}

	queue := bus.NewQueue()
	gw := &Gateway{
		cfg:       cfg,
		log:       log,
		queue:     queue,
		dedupe:    newSeenSet(time.Duration(cfg.DedupeTTLSeconds)*time.Second, cfg.DedupeSweepAt),
		workspace: opts.Workspace,
		images:    opts.Images,
		senders:   make(map[string]Sender),
		fetchers:  make(map[string]MediaFetcher),
	}

	for _, id := range cfg.AccountIDs() {
		acct := cfg.Account(id)
		client := newAccountClient(acct, newOfficialClient(acct.APIBaseURL, log), queue, log)
		gw.senders[id] = client
		gw.fetchers[id] = client
	}

	return gw, nil
}

// Name returns the channel identifier used in session keys and logs.
func (g *Gateway) Name() string {
	return channelName
}

// Run serves the webhook endpoints until the context is cancelled.
func (g *Gateway) Run(ctx context.Context, resolver channel.Resolver) error {
	if resolver == nil {
		return errors.New("resolver is required")
	}

	g.resolver = resolver
	g.baseCtx = ctx

	g.server = &http.Server{
		Addr:        g.cfg.Listen,
		Handler:     g.routes(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
		// No WriteTimeout: legacy sync requests stay open until resolved.
	}

	g.log.Info("WeCom channel started", "listen", g.cfg.Listen, "accounts", len(g.senders))

	errCh := make(chan error, 1)
	go func() {
		if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("wecom server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("wecom server: %w", err)
	}
}

func (g *Gateway) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(g.loggingMiddleware)
	r.Use(middleware.Recoverer)

	for _, id := range g.cfg.AccountIDs() {
		accountID := id
		base := "/wecom"
		if accountID != config.DefaultAccountID {
			base = "/wecom/" + accountID
		}

		r.Get(base+"/message", func(w http.ResponseWriter, r *http.Request) {
			g.handleVerify(w, r, accountID)
		})
		r.Post(base+"/message", func(w http.ResponseWriter, r *http.Request) {
			g.handleMessage(w, r, accountID)
		})
		r.Get(base+"/messages", func(w http.ResponseWriter, r *http.Request) {
			g.handlePoll(w, r)
		})
	}

	return r
}

// loggingMiddleware logs requests without payload content.
func (g *Gateway) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		g.log.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// handleVerify answers the one-time URL-verification handshake: it checks the
// signature over the echo string and responds with its decrypted plaintext.
func (g *Gateway) handleVerify(w http.ResponseWriter, r *http.Request, accountID string) {
	acct := g.cfg.Account(accountID)
	query := r.URL.Query()

	msgSignature := query.Get("msg_signature")
	timestamp := query.Get("timestamp")
	nonce := query.Get("nonce")
	echostr := query.Get("echostr")

	if acct.Token == "" {
		http.Error(w, "token not configured", http.StatusInternalServerError)
		return
	}
	if msgSignature == "" || timestamp == "" || nonce == "" || echostr == "" {
		http.Error(w, "missing required parameters", http.StatusBadRequest)
		return
	}
	if !verifySignature(acct.Token, timestamp, nonce, echostr, msgSignature) {
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}
	if acct.EncodingAESKey == "" || acct.CorpID == "" {
		http.Error(w, "encoding aes key or corpid not configured", http.StatusInternalServerError)
		return
	}

	plaintext, err := decryptMessage(acct.EncodingAESKey, echostr, acct.CorpID)
	if err != nil {
		g.log.Error("URL verification decrypt failed", "account", accountID, "error", err)
		http.Error(w, "decryption failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, plaintext)
}

// handleMessage routes a POST to the encrypted or the legacy ingestion path.
func (g *Gateway) handleMessage(w http.ResponseWriter, r *http.Request, accountID string) {
	contentType := r.Header.Get("Content-Type")

	encrypted := strings.Contains(contentType, "text/xml") ||
		strings.Contains(contentType, "application/xml") ||
		r.URL.Query().Has("msg_signature")

	if encrypted {
		g.handleEncrypted(w, r, accountID)
		return
	}

	g.handleLegacy(w, r, accountID, contentType)
}

// handleEncrypted runs the verify → decrypt → parse → classify pipeline for
// one encrypted delivery. Everything after the ack is detached; no failure
// past that point can reach the HTTP response.
func (g *Gateway) handleEncrypted(w http.ResponseWriter, r *http.Request, accountID string) {
	acct := g.cfg.Account(accountID)

	if acct.Token == "" || acct.EncodingAESKey == "" || acct.CorpID == "" {
		http.Error(w, "token, encoding aes key or corpid not configured", http.StatusInternalServerError)
		return
	}

	query := r.URL.Query()
	msgSignature := query.Get("msg_signature")
	timestamp := query.Get("timestamp")
	nonce := query.Get("nonce")
	if msgSignature == "" || timestamp == "" || nonce == "" {
		http.Error(w, "missing signature parameters", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusInternalServerError)
		return
	}

	ciphertext, err := parseEnvelope(body)
	if err != nil {
		http.Error(w, "missing Encrypt field in XML", http.StatusBadRequest)
		return
	}

	if !verifySignature(acct.Token, timestamp, nonce, ciphertext, msgSignature) {
		g.log.Warn("Invalid message signature", "account", accountID)
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	plainXML, err := decryptMessage(acct.EncodingAESKey, ciphertext, acct.CorpID)
	if err != nil {
		g.log.Error("Message decrypt failed", "account", accountID, "error", err)
		http.Error(w, "decryption failed", http.StatusInternalServerError)
		return
	}

	msg, err := parseMessage(plainXML)
	if err != nil {
		// Ack anyway: a parse failure must not provoke redelivery storms.
		g.ack(w)
		g.log.Error("Message parse failed", "account", accountID, "error", err)
		return
	}

	switch msg.Kind() {
	case KindEvent:
		g.ack(w)
		g.log.Info("Ignoring event message",
			"account", accountID,
			"from", msg.FromUserName,
			"event", msg.Event,
			"event_key", msg.EventKey,
		)

	case KindImage:
		g.ack(w)
		g.spawn("image", func(ctx context.Context) {
			g.processImage(ctx, accountID, acct, msg)
		})

	default:
		text, mediaURLs := msg.DispatchText()
		dc := bus.DispatchContext{
			Channel:      channelName,
			AccountID:    accountID,
			From:         msg.FromUserName,
			Body:         text,
			SessionKey:   bus.DeriveSessionKey(channelName, accountID, msg.FromUserName),
			MediaURLs:    mediaURLs,
			SystemPrompt: acct.SystemPrompt,
		}

		g.ack(w)
		g.spawn("resolve", func(ctx context.Context) {
			g.resolveReplies(ctx, accountID, dc)
		})
	}
}

// legacyRequest is the backward-compatible JSON ingestion body.
type legacyRequest struct {
	Email    string `json:"email"`
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl"`
	Sync     bool   `json:"sync"`
}

// handleLegacy accepts the JSON/multipart ingestion format. Sync mode holds
// the response open until the first resolved reply.
func (g *Gateway) handleLegacy(w http.ResponseWriter, r *http.Request, accountID, contentType string) {
	var req legacyRequest
	var mediaURLs []string
	var fileNotes []string

	switch {
	case strings.Contains(contentType, "application/json"):
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil || len(body) == 0 {
			http.Error(w, "empty body", http.StatusBadRequest)
			return
		}
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		if req.ImageURL != "" {
			mediaURLs = append(mediaURLs, req.ImageURL)
		}

	case strings.Contains(contentType, "multipart/form-data"):
		if err := r.ParseMultipartForm(maxBodySize); err != nil {
			http.Error(w, "invalid multipart body", http.StatusBadRequest)
			return
		}
		req.Email = r.FormValue("email")
		req.Text = r.FormValue("text")
		req.Sync = r.FormValue("sync") == "true"

		for _, headers := range r.MultipartForm.File {
			for _, header := range headers {
				savedPath, err := saveUploadedFile(header)
				if err != nil {
					g.log.Error("Failed to save uploaded file", "filename", header.Filename, "error", err)
					continue
				}
				mediaURLs = append(mediaURLs, "file://"+savedPath)
				fileNotes = append(fileNotes, fmt.Sprintf("- %s: %s", header.Filename, savedPath))
			}
		}
	}

	if req.Email == "" {
		http.Error(w, "missing email", http.StatusBadRequest)
		return
	}

	body := req.Text
	if len(fileNotes) > 0 {
		body += "\n\n[uploaded files]\n" + strings.Join(fileNotes, "\n")
	}

	acct := g.cfg.Account(accountID)
	dc := bus.DispatchContext{
		Channel:      channelName,
		AccountID:    accountID,
		From:         req.Email,
		Body:         body,
		SessionKey:   bus.DeriveSessionKey(channelName, accountID, req.Email),
		MediaURLs:    mediaURLs,
		SystemPrompt: acct.SystemPrompt,
	}

	if req.Sync {
		// Register before dispatch so the first reply cannot slip past.
		replies, cancel := g.queue.Register(req.Email)
		defer cancel()

		g.spawn("resolve", func(ctx context.Context) {
			g.resolveReplies(ctx, accountID, dc)
		})

		select {
		case msg := <-replies:
			respondJSON(w, http.StatusOK, map[string]any{
				"status":   "ok",
				"text":     msg.Text,
				"mediaUrl": msg.MediaURL,
			})
		case <-time.After(syncWaitTimeout):
			http.Error(w, "timed out waiting for reply", http.StatusGatewayTimeout)
		case <-r.Context().Done():
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	g.spawn("resolve", func(ctx context.Context) {
		g.resolveReplies(ctx, accountID, dc)
	})
}

// handlePoll returns and clears messages queued for one recipient.
func (g *Gateway) handlePoll(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		http.Error(w, "missing email param", http.StatusBadRequest)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"messages": g.queue.Drain(email)})
}

// ack writes the mandatory quick acknowledgment and flushes it so the
// response is on the wire before any background work starts.
func (g *Gateway) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, ackBody)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// spawn runs fn detached from the request, bounded by a recover so a
// background failure can never crash the serving process.
func (g *Gateway) spawn(task string, fn func(ctx context.Context)) {
	ctx := g.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				g.log.Error("Background task panicked", "task", task, "panic", rec)
			}
		}()
		fn(ctx)
	}()
}

func (g *Gateway) senderFor(accountID string) Sender {
	if sender, ok := g.senders[accountID]; ok {
		return sender
	}
	return g.senders[config.DefaultAccountID]
}

func (g *Gateway) fetcherFor(accountID string) MediaFetcher {
	if fetcher, ok := g.fetchers[accountID]; ok {
		return fetcher
	}
	return g.fetchers[config.DefaultAccountID]
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// saveUploadedFile copies one multipart file part to a uuid-suffixed temp path.
func saveUploadedFile(header *multipart.FileHeader) (string, error) {
	src, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	path := filepath.Join(os.TempDir(), fmt.Sprintf("wecom-%s-%s", uuid.NewString(), filepath.Base(header.Filename)))
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("write temp file: %w", err)
	}

	return path, nil
}
