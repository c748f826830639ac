package twilio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/adiwarsito/svara/pkg/errorsx"
	"github.com/adiwarsito/svara/pkg/logging"
	"github.com/adiwarsito/svara/pkg/session"
	"github.com/adiwarsito/svara/pkg/store"
	"github.com/adiwarsito/svara/pkg/transport"
)

// NumberDirectory resolves a dialled number to its configured inbound
// assistant. The control surface owns the mapping; the engine only reads it.
type NumberDirectory interface {
	AssistantForNumber(number string) (assistantID string, ok bool)
}

type callCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

type callUpdater interface {
	UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error)
}

// Adapter bridges Twilio signalling to the session engine: inbound webhooks
// become call rows plus media-bridge directives, status callbacks update call
// state, and outbound dials, transfers, DTMF, and hangups go through the
// REST API.
type Adapter struct {
	cfg      Config
	store    store.Store
	tokens   *transport.TokenManager
	registry *session.Registry
	numbers  NumberDirectory
	logger   *slog.Logger

	createClient callCreator
	updateClient callUpdater
}

func NewAdapter(cfg Config, st store.Store, tokens *transport.TokenManager, registry *session.Registry, numbers NumberDirectory) *Adapter {
	return &Adapter{
		cfg:      cfg.withDefaults(),
		store:    st,
		tokens:   tokens,
		registry: registry,
		numbers:  numbers,
		logger:   logging.NewComponentLogger(slog.Default(), "twilio_adapter"),
	}
}

// Mount registers the webhook and media handlers.
func (a *Adapter) Mount(mux *http.ServeMux, launcher transport.Launcher) {
	mux.HandleFunc(a.cfg.InboundPath, a.HandleInbound)
	mux.HandleFunc(a.cfg.OutboundPath, a.HandleOutboundAnswer)
	mux.HandleFunc(a.cfg.StatusPath, a.HandleStatus)
	mux.Handle(a.cfg.MediaPath, a.newMediaHandler(launcher))
}

// HandleInbound answers the carrier's inbound-ring webhook: look up the
// dialled number, create the call row, and direct the carrier to connect the
// media leg to the engine's WebSocket.
func (a *Adapter) HandleInbound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !a.validateRequest(r) {
		a.logger.Warn("twilio_invalid_signature",
			slog.String("reason_code", string(errorsx.ReasonWebhookInvalidSignature)))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	carrierSID := r.FormValue("CallSid")
	from := r.FormValue("From")
	to := r.FormValue("To")

	assistantID, ok := a.numbers.AssistantForNumber(to)
	if !ok {
		a.logger.Warn("no_assistant_for_number", slog.String("to", to))
		writeTwiML(w, rejectTwiML(a.cfg.ErrorPrompt))
		return
	}

	callID := uuid.NewString()
	now := time.Now()
	call := &store.Call{
		ID:          callID,
		Kind:        store.CallInbound,
		Status:      store.StatusRinging,
		FromNumber:  from,
		ToNumber:    to,
		AssistantID: assistantID,
		CarrierMetadata: map[string]string{
			"carrier":         "twilio",
			"carrier_call_id": carrierSID,
		},
		StartedAt: &now,
	}
	if err := a.store.UpsertCall(r.Context(), call); err != nil {
		a.logger.Error("inbound_call_upsert_failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	token, err := a.tokens.Mint(r.Context(), callID)
	if err != nil {
		a.logger.Error("media_token_mint_failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	a.logger.Info("inbound_call",
		slog.String("call_id", callID),
		slog.String("carrier_call_id", carrierSID),
		slog.String("to", to),
		slog.String("assistant_id", assistantID))
	writeTwiML(w, connectStreamTwiML(a.cfg.mediaStreamURL(callID, token)))
}

// HandleOutboundAnswer returns the media-bridge directive when an outbound
// call is answered; the call row already exists from Dial.
func (a *Adapter) HandleOutboundAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !a.validateRequest(r) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	callID := r.URL.Query().Get("call_id")
	if callID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if _, err := a.store.GetCall(r.Context(), callID); err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	token, err := a.tokens.Mint(r.Context(), callID)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeTwiML(w, connectStreamTwiML(a.cfg.mediaStreamURL(callID, token)))
}

// HandleStatus maps carrier status callbacks onto call rows and live
// sessions.
func (a *Adapter) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !a.validateRequest(r) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	callID := r.FormValue("call_id")
	if callID == "" {
		callID = r.URL.Query().Get("call_id")
	}
	status, ok := mapCallStatus(r.FormValue("CallStatus"))
	if !ok || callID == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	a.logger.Info("carrier_status",
		slog.String("call_id", callID),
		slog.String("status", string(status)))

	switch status {
	case store.StatusCompleted, store.StatusFailed, store.StatusBusy, store.StatusNoAnswer:
		if sess, live := a.registry.Lookup(callID); live {
			sess.End(session.ReasonClientDisconnect)
		} else if err := a.store.UpdateCallStatus(r.Context(), callID, status); err != nil {
			a.logger.Warn("status_update_failed", slog.String("error", err.Error()))
		}
	default:
		if err := a.store.UpdateCallStatus(r.Context(), callID, status); err != nil {
			a.logger.Warn("status_update_failed", slog.String("error", err.Error()))
		}
	}
	w.WriteHeader(http.StatusOK)
}

// Dial places an outbound call. The carrier fetches the outbound-answer
// webhook when the callee picks up.
func (a *Adapter) Dial(ctx context.Context, to, from, assistantID string) (string, error) {
	if to == "" || from == "" {
		return "", errorsx.Wrap(errors.New("to/from required"), errorsx.KindValidation, errorsx.ReasonUnknown)
	}
	if a.cfg.AccountSID == "" || a.cfg.AuthToken == "" {
		return "", errors.New("missing twilio credentials")
	}
	callID := uuid.NewString()
	call := &store.Call{
		ID:          callID,
		Kind:        store.CallOutbound,
		Status:      store.StatusQueued,
		FromNumber:  from,
		ToNumber:    to,
		AssistantID: assistantID,
		CarrierMetadata: map[string]string{
			"carrier": "twilio",
		},
	}
	if err := a.store.UpsertCall(ctx, call); err != nil {
		return "", err
	}

	answerURL := strings.TrimRight(a.cfg.PublicURL, "/") + a.cfg.OutboundPath + "?call_id=" + callID
	statusURL := strings.TrimRight(a.cfg.PublicURL, "/") + a.cfg.StatusPath + "?call_id=" + callID
	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetUrl(answerURL)
	params.SetStatusCallback(statusURL)
	resp, err := a.creator().CreateCall(params)
	if err != nil {
		_ = a.store.UpdateCallStatus(ctx, callID, store.StatusFailed)
		return "", err
	}
	if resp == nil || resp.Sid == nil {
		return "", fmt.Errorf("missing call sid")
	}
	call.CarrierMetadata["carrier_call_id"] = *resp.Sid
	_ = a.store.UpsertCall(ctx, call)
	a.logger.Info("outbound_call_created",
		slog.String("call_id", callID),
		slog.String("carrier_call_id", *resp.Sid))
	return callID, nil
}

// Transfer patches the carrier leg to dial a new destination.
func (a *Adapter) Transfer(ctx context.Context, callID, destination string) error {
	carrierSID, err := a.carrierSID(ctx, callID)
	if err != nil {
		return err
	}
	params := &api.UpdateCallParams{}
	params.SetTwiml(dialTwiML(destination))
	_, err = a.updater().UpdateCall(carrierSID, params)
	return err
}

// SendDTMF presses digits on an active carrier leg.
func (a *Adapter) SendDTMF(ctx context.Context, callID, digits string) error {
	if strings.TrimSpace(digits) == "" {
		return errors.New("digits required")
	}
	carrierSID, err := a.carrierSID(ctx, callID)
	if err != nil {
		return err
	}
	params := &api.UpdateCallParams{}
	params.SetTwiml(dtmfTwiML(digits))
	_, err = a.updater().UpdateCall(carrierSID, params)
	return err
}

// Hangup terminates the carrier leg.
func (a *Adapter) Hangup(ctx context.Context, callID string) error {
	carrierSID, err := a.carrierSID(ctx, callID)
	if err != nil {
		return err
	}
	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	_, err = a.updater().UpdateCall(carrierSID, params)
	return err
}

func (a *Adapter) carrierSID(ctx context.Context, callID string) (string, error) {
	call, err := a.store.GetCall(ctx, callID)
	if err != nil {
		return "", err
	}
	sid := call.CarrierMetadata["carrier_call_id"]
	if sid == "" {
		return "", fmt.Errorf("call %s has no carrier leg", callID)
	}
	return sid, nil
}

func (a *Adapter) creator() callCreator {
	if a.createClient != nil {
		return a.createClient
	}
	return a.rest().Api
}

func (a *Adapter) updater() callUpdater {
	if a.updateClient != nil {
		return a.updateClient
	}
	return a.rest().Api
}

func (a *Adapter) rest() *twilio.RestClient {
	return twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: a.cfg.AccountSID,
		Password: a.cfg.AuthToken,
	})
}

func (a *Adapter) validateRequest(r *http.Request) bool {
	if a.cfg.AuthToken == "" {
		return true
	}
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	validator := twilioclient.NewRequestValidator(a.cfg.AuthToken)
	return validator.ValidateBody(a.requestURL(r), body, signature)
}

func (a *Adapter) requestURL(r *http.Request) string {
	if a.cfg.PublicURL != "" {
		return strings.TrimRight(a.cfg.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "https"
		}
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func writeTwiML(w http.ResponseWriter, twiml string) {
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(twiml))
}
