package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"drivepass-billing/internal/domain"
	"drivepass-billing/internal/domain/model"
	"drivepass-billing/internal/domain/ports/adapter"
	"drivepass-billing/internal/infra/logging"
	"drivepass-billing/internal/infra/metrics"
	red "drivepass-billing/internal/infra/redis"
	"drivepass-billing/internal/infra/worker"
)

// Compile-time check
var _ WebhookUseCase = (*webhookUC)(nil)

const (
	defaultLockTTL = 30 * time.Second
	notifyTimeout  = 5 * time.Second
)

// Stage names one step of the webhook pipeline.
type Stage string

const (
	StageReceived             Stage = "received"
	StageSignatureVerified    Stage = "signature-verified"
	StageEventClassified      Stage = "event-classified"
	StageResourceFetched      Stage = "resource-fetched"
	StageLedgerUpdated        Stage = "ledger-updated"
	StageEntitlementActivated Stage = "entitlement-activated"
	StageAcknowledged         Stage = "acknowledged"
)

// CardVerifier is satisfied by signature.CardVerifier.
type CardVerifier interface {
	Verify(payload []byte, header string) (model.CardEvent, error)
}

// WalletVerifier is satisfied by signature.WalletVerifier.
type WalletVerifier interface {
	Verify(header, requestID, resourceID string) bool
	Insecure() bool
}

// TaskSubmitter is satisfied by worker.Pool.
type TaskSubmitter interface {
	Submit(task worker.Task) error
}

// WalletNotification is an inbound Mercado Pago delivery.
type WalletNotification struct {
	Signature       string // x-signature
	RequestID       string // x-request-id
	QueryResourceID string // data.id query parameter, the signed resource id
	QueryType       string // type or topic query parameter
	Body            []byte
}

// PaymentOutcome is the pipeline result for one payment of a delivery.
type PaymentOutcome struct {
	Ref            model.ProviderRef
	PaymentID      string
	Status         model.PaymentStatus
	FirstSucceeded bool
	UserPackageID  string
	Stage          Stage // last completed stage
	Skipped        string
	Err            error
}

func (o *PaymentOutcome) fail(provider model.Provider, stage Stage, err error) {
	o.Err = err
	metrics.IncWebhookStageFailure(string(provider), string(stage))
}

// Outcome is the pipeline result of one delivery.
type Outcome struct {
	DeliveryID string
	Provider   model.Provider
	Kind       model.EventKind
	Stage      Stage
	Skipped    string
	Err        error
	Payments   []PaymentOutcome
}

func (o *Outcome) fail(stage Stage, err error) {
	o.Err = err
	metrics.IncWebhookStageFailure(string(o.Provider), string(stage))
}

// Failure returns the delivery error or the first payment error.
func (o *Outcome) Failure() error {
	if o.Err != nil {
		return o.Err
	}
	for _, p := range o.Payments {
		if p.Err != nil {
			return p.Err
		}
	}
	return nil
}

func (o *Outcome) label() string {
	for _, p := range o.Payments {
		if p.Skipped == "locked" {
			return "locked"
		}
	}
	switch {
	case o.Failure() != nil:
		return "failed"
	case o.Skipped != "":
		return "ignored"
	}
	return "processed"
}

type WebhookUseCase interface {
	// HandleCardWebhook only returns an error when the signature does not verify.
	HandleCardWebhook(ctx context.Context, payload []byte, signature string) (*Outcome, error)
	// HandleWalletWebhook only returns an error when the signature does not verify.
	HandleWalletWebhook(ctx context.Context, n WalletNotification) (*Outcome, error)
	// Refetch runs the pipeline from resource-fetched for a known payment.
	Refetch(ctx context.Context, ref model.ProviderRef) (*Outcome, error)
	// ActivatePayment grants the package of a succeeded payment that has none.
	ActivatePayment(ctx context.Context, p *model.Payment) PaymentOutcome
}

// WebhookDeps wires the dispatcher. Locker, Pool and Publisher may be nil.
type WebhookDeps struct {
	Card         CardVerifier
	Wallet       WalletVerifier
	CardGW       adapter.CardGateway
	WalletGW     adapter.WalletGateway
	Ledger       LedgerUseCase
	Entitlements EntitlementUseCase
	Locker       red.Locker
	LockTTL      time.Duration
	Pool         TaskSubmitter
	Publisher    adapter.EventPublisher
}

type webhookUC struct {
	WebhookDeps
	log *zerolog.Logger
}

func NewWebhookUseCase(deps WebhookDeps, logger *zerolog.Logger) *webhookUC {
	if deps.LockTTL <= 0 {
		deps.LockTTL = defaultLockTTL
	}
	if deps.Wallet != nil && deps.Wallet.Insecure() {
		logger.Warn().Msg("mercado pago signature verification is disabled")
	}
	return &webhookUC{WebhookDeps: deps, log: logger}
}

func (u *webhookUC) begin(ctx context.Context, provider model.Provider) (context.Context, *Outcome, func()) {
	id := ulid.Make().String()
	ctx = logging.WithDeliveryID(ctx, id)
	ctx = logging.WithProvider(ctx, string(provider))
	out := &Outcome{DeliveryID: id, Provider: provider, Kind: model.EventUnknown, Stage: StageReceived}
	start := time.Now()
	return ctx, out, func() {
		metrics.ObserveWebhookDuration(string(provider), time.Since(start))
		metrics.IncWebhookEvent(string(provider), string(out.Kind), out.label())
		lvl, err := zerolog.InfoLevel, out.Failure()
		if err != nil {
			lvl = zerolog.WarnLevel
		}
		logging.With(ctx, u.log).WithLevel(lvl).Err(err).Str("kind", string(out.Kind)).Str("stage", string(out.Stage)).Str("skipped", out.Skipped).
			Int("payments", len(out.Payments)).Msg("webhook handled")
	}
}

// ---------- provider A ----------

func (u *webhookUC) HandleCardWebhook(ctx context.Context, payload []byte, signature string) (*Outcome, error) {
	ctx, out, done := u.begin(ctx, model.ProviderStripe)
	defer done()

	ev, err := u.verifyCard(payload, signature)
	if err != nil {
		metrics.IncSignatureFailure(string(model.ProviderStripe))
		out.Err = err
		return out, err
	}
	out.Stage = StageSignatureVerified

	if !u.classifyCard(ctx, ev, out) {
		out.Stage = StageAcknowledged
		return out, nil
	}

	ref, err := u.cardRef(ctx, ev)
	switch {
	case err != nil:
		out.fail(StageResourceFetched, err)
		return out, nil
	case ref.ExternalID == "":
		out.Skipped = "no_payment_intent"
		out.Stage = StageAcknowledged
		return out, nil
	}

	out.Payments = append(out.Payments, u.processPayment(ctx, ref, func(ctx context.Context) (*adapter.ProviderPayment, model.PaymentStatus, error) {
		return u.fetchCard(ctx, ev)
	}))
	out.Stage = StageAcknowledged
	return out, nil
}

// cardRef names the payment intent an event is about. Sessions are resolved
// through the provider; the intent id is empty while the session is unpaid.
func (u *webhookUC) cardRef(ctx context.Context, ev model.CardEvent) (model.ProviderRef, error) {
	if !ev.IsSession() {
		return model.ProviderRef{Provider: model.ProviderStripe, ExternalID: ev.ObjectID}, nil
	}
	pp, err := u.CardGW.GetCheckoutSession(ctx, ev.ObjectID)
	if err != nil {
		return model.ProviderRef{}, err
	}
	return model.ProviderRef{Provider: model.ProviderStripe, ExternalID: pp.ExternalID}, nil
}

func (u *webhookUC) verifyCard(payload []byte, signature string) (model.CardEvent, error) {
	if u.Card == nil {
		return model.CardEvent{}, fmt.Errorf("%w: no verifier", domain.ErrInvalidSignature)
	}
	return u.Card.Verify(payload, signature)
}

func (u *webhookUC) classifyCard(ctx context.Context, ev model.CardEvent, out *Outcome) bool {
	out.Kind = ev.Kind
	if ev.Kind == model.EventUnknown {
		out.Skipped = "unhandled_event"
		logging.With(ctx, u.log).Debug().Str("event_type", ev.RawType).Str("event_id", ev.EventID).Msg("ignoring stripe event")
		return false
	}
	if ev.ObjectID == "" {
		out.Skipped = "no_object"
		return false
	}
	out.Stage = StageEventClassified
	return true
}

// fetchCard returns the authoritative payment and, for failure events, the status to force.
func (u *webhookUC) fetchCard(ctx context.Context, ev model.CardEvent) (*adapter.ProviderPayment, model.PaymentStatus, error) {
	var (
		pp  *adapter.ProviderPayment
		err error
	)
	if ev.IsSession() {
		pp, err = u.CardGW.GetCheckoutSession(ctx, ev.ObjectID)
	} else {
		pp, err = u.CardGW.GetPaymentIntent(ctx, ev.ObjectID)
	}
	if err != nil {
		return nil, "", err
	}

	var force model.PaymentStatus
	switch ev.Kind {
	case model.EventPaymentIntentFailed, model.EventCheckoutSessionAsyncFailed:
		// a later success wins over a stale failure notification
		if model.CanonicalStatus(pp.Provider, pp.ProviderStatus) != model.PaymentStatusSucceeded {
			force = model.PaymentStatusFailed
		}
	}
	return pp, force, nil
}

// ---------- provider B ----------

type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type walletBody struct {
	Type     string `json:"type"`
	Topic    string `json:"topic"`
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Data     struct {
		ID flexID `json:"id"`
	} `json:"data"`
}

func parseWalletBody(n WalletNotification) model.WalletEvent {
	var b walletBody
	_ = json.Unmarshal(n.Body, &b)

	raw := b.Type
	if raw == "" {
		raw = b.Topic
	}
	if raw == "" {
		raw = n.QueryType
	}
	id := string(b.Data.ID)
	if id == "" && b.Resource != "" {
		id = path.Base(b.Resource)
	}
	return model.WalletEvent{Kind: model.WalletEventKind(raw), RawType: raw, Action: b.Action, ID: id}
}

func (u *webhookUC) HandleWalletWebhook(ctx context.Context, n WalletNotification) (*Outcome, error) {
	ctx, out, done := u.begin(ctx, model.ProviderMercadoPago)
	defer done()

	ev := parseWalletBody(n)
	resourceID, err := u.verifyWallet(ctx, n, ev)
	if err != nil {
		metrics.IncSignatureFailure(string(model.ProviderMercadoPago))
		out.Err = err
		return out, err
	}
	ev.ID = resourceID
	out.Stage = StageSignatureVerified

	out.Kind = ev.Kind
	switch {
	case ev.Kind == model.EventUnknown:
		out.Skipped = "unhandled_event"
		logging.With(ctx, u.log).Debug().Str("event_type", ev.RawType).Str("action", ev.Action).Msg("ignoring mercado pago notification")
		out.Stage = StageAcknowledged
		return out, nil
	case ev.ID == "":
		out.Skipped = "no_object"
		out.Stage = StageAcknowledged
		return out, nil
	}
	out.Stage = StageEventClassified

	ids, err := u.walletPaymentIDs(ctx, ev)
	if err != nil {
		out.fail(StageResourceFetched, err)
		return out, nil
	}
	for _, id := range ids {
		ref := model.ProviderRef{Provider: model.ProviderMercadoPago, ExternalID: id}
		out.Payments = append(out.Payments, u.processPayment(ctx, ref, u.fetchWallet(id)))
	}
	out.Stage = StageAcknowledged
	return out, nil
}

// verifyWallet returns the resource id the rest of the pipeline may trust.
func (u *webhookUC) verifyWallet(ctx context.Context, n WalletNotification, ev model.WalletEvent) (string, error) {
	if u.Wallet == nil {
		return "", fmt.Errorf("%w: no verifier", domain.ErrInvalidSignature)
	}
	if u.Wallet.Insecure() {
		if n.QueryResourceID != "" {
			return n.QueryResourceID, nil
		}
		return ev.ID, nil
	}
	if !u.Wallet.Verify(n.Signature, n.RequestID, n.QueryResourceID) {
		logging.With(ctx, u.log).Warn().Str("request_id", n.RequestID).Msg("mercado pago signature rejected")
		return "", domain.ErrInvalidSignature
	}
	return n.QueryResourceID, nil
}

func (u *webhookUC) fetchWallet(id string) fetchFunc {
	return func(ctx context.Context) (*adapter.ProviderPayment, model.PaymentStatus, error) {
		pp, err := u.WalletGW.GetPayment(ctx, id)
		return pp, "", err
	}
}

// walletPaymentIDs expands a merchant order into its payments.
func (u *webhookUC) walletPaymentIDs(ctx context.Context, ev model.WalletEvent) ([]string, error) {
	if ev.Kind != model.EventWalletMerchantOrder {
		return []string{ev.ID}, nil
	}
	mo, err := u.WalletGW.GetMerchantOrder(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	logging.With(ctx, u.log).Debug().Str("merchant_order", mo.ID).Int("payments", len(mo.PaymentIDs)).Msg("merchant order expanded")
	return mo.PaymentIDs, nil
}

// ---------- shared payment pipeline ----------

func (u *webhookUC) Refetch(ctx context.Context, ref model.ProviderRef) (*Outcome, error) {
	ctx, out, done := u.begin(ctx, ref.Provider)
	defer done()
	out.Stage = StageEventClassified

	var fetch fetchFunc
	switch ref.Provider {
	case model.ProviderStripe:
		fetch = func(ctx context.Context) (*adapter.ProviderPayment, model.PaymentStatus, error) {
			pp, err := u.CardGW.GetPaymentIntent(ctx, ref.ExternalID)
			return pp, "", err
		}
	case model.ProviderMercadoPago:
		fetch = u.fetchWallet(ref.ExternalID)
	default:
		err := fmt.Errorf("%w: %q", domain.ErrUnknownProvider, ref.Provider)
		out.fail(StageResourceFetched, err)
		return out, err
	}

	out.Payments = append(out.Payments, u.processPayment(ctx, ref, fetch))
	out.Stage = StageAcknowledged
	return out, out.Failure()
}

// fetchFunc reads the provider state of one payment and, for failure
// events, the status to force.
type fetchFunc func(ctx context.Context) (*adapter.ProviderPayment, model.PaymentStatus, error)

// processPayment reads the provider state while holding the in-flight lock,
// so whichever delivery writes last has read the newest state.
func (u *webhookUC) processPayment(ctx context.Context, ref model.ProviderRef, fetch fetchFunc) PaymentOutcome {
	po := PaymentOutcome{Ref: ref, Stage: StageEventClassified}
	log := logging.With(ctx, u.log).With().Str("ref", ref.String()).Logger()

	release, err := u.lock(ctx, ref)
	switch {
	case errors.Is(err, domain.ErrLockBusy):
		log.Warn().Msg("payment still held by another delivery, left to the reconciler")
		po.Skipped = "locked"
		po.fail(ref.Provider, StageResourceFetched, err)
		return po
	case err != nil:
		log.Warn().Err(err).Msg("in-flight lock unavailable, continuing without it")
	}
	defer release()

	pp, force, err := fetch(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("provider fetch failed")
		po.fail(ref.Provider, StageResourceFetched, err)
		return po
	}
	po.Stage = StageResourceFetched

	res, err := u.recordLedger(ctx, pp, force)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedCorrelation) {
			log.Error().Err(err).Str("reference", pp.Reference).Msg("payment cannot be attributed, manual reconciliation needed")
		} else {
			log.Error().Err(err).Msg("ledger update failed")
		}
		po.fail(ref.Provider, StageLedgerUpdated, err)
		return po
	}
	po.Stage = StageLedgerUpdated
	po.PaymentID = res.Payment.ID
	po.Status = res.Payment.Status
	po.FirstSucceeded = res.FirstSucceeded

	if res.FirstSucceeded {
		u.activate(ctx, res.Payment, &po)
		if po.Err != nil {
			return po
		}
	}
	po.Stage = StageAcknowledged
	return po
}

func (u *webhookUC) ActivatePayment(ctx context.Context, p *model.Payment) PaymentOutcome {
	ctx = logging.WithProvider(ctx, string(p.Provider))
	po := PaymentOutcome{Ref: p.Ref(), PaymentID: p.ID, Status: p.Status, Stage: StageLedgerUpdated}
	if p.Status != model.PaymentStatusSucceeded {
		po.Skipped = "not_succeeded"
		return po
	}
	u.activate(ctx, p, &po)
	if po.Err == nil {
		po.Stage = StageAcknowledged
	}
	return po
}

func (u *webhookUC) lock(ctx context.Context, ref model.ProviderRef) (func(), error) {
	noop := func() {}
	if u.Locker == nil {
		return noop, nil
	}
	key := red.WebhookLockKey(string(ref.Provider), ref.ExternalID)
	token, err := u.Locker.TryLock(ctx, key, u.LockTTL)
	if err != nil {
		return noop, err
	}
	return func() {
		if err := u.Locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			logging.With(ctx, u.log).Warn().Err(err).Str("key", key).Msg("unlock failed")
		}
	}, nil
}

func (u *webhookUC) recordLedger(ctx context.Context, pp *adapter.ProviderPayment, force model.PaymentStatus) (*LedgerResult, error) {
	f := NormalizedFields{
		SessionID:      pp.SessionID,
		ProviderStatus: pp.ProviderStatus,
		Amount:         pp.Amount,
		Currency:       pp.Currency,
		Metadata:       detailsMeta(pp.Details),
		ForceStatus:    force,
	}
	// unattributable payments still update a row that already exists
	if c, err := model.ResolveCorrelation(pp.Reference, pp.Metadata); err == nil {
		f.UserID, f.PackageID = c.UserID, c.PackageID
	}
	return u.Ledger.RecordEvent(ctx, pp.Ref(), f)
}

func (u *webhookUC) activate(ctx context.Context, p *model.Payment, po *PaymentOutcome) {
	ctx = logging.WithUserID(ctx, p.UserID)
	up, err := u.Entitlements.Activate(ctx, p.UserID, p.PackageID, p.ID)
	switch {
	case errors.Is(err, domain.ErrAlreadyActivated):
		po.Skipped = "already_activated"
		return
	case err != nil:
		po.fail(p.Provider, StageEntitlementActivated, err)
		return
	}
	po.Stage = StageEntitlementActivated
	po.UserPackageID = up.ID
	u.notify(ctx, up, p)
}

func (u *webhookUC) notify(ctx context.Context, up *model.UserPackage, p *model.Payment) {
	if u.Publisher == nil {
		return
	}
	ev := adapter.PackageActivated{
		UserID:        up.UserID,
		PackageID:     up.PackageID,
		UserPackageID: up.ID,
		PaymentID:     p.ID,
		Provider:      string(p.Provider),
		ActivatedAt:   up.PurchasedAt,
	}
	log := logging.With(ctx, u.log)
	task := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		if err := u.Publisher.PublishPackageActivated(ctx, ev); err != nil {
			log.Warn().Err(err).Str("user_package_id", ev.UserPackageID).Msg("activation notification failed")
			return err
		}
		return nil
	}
	if u.Pool == nil {
		_ = task(context.WithoutCancel(ctx))
		return
	}
	if err := u.Pool.Submit(task); err != nil {
		log.Warn().Err(err).Str("user_package_id", ev.UserPackageID).Msg("activation notification dropped")
	}
}

func detailsMeta(d adapter.PaymentDetails) map[string]any {
	m := map[string]any{}
	if d.PayerEmail != "" {
		m["payer_email"] = strings.ToLower(d.PayerEmail)
	}
	if d.Method != "" {
		m["method"] = d.Method
	}
	if d.Installments > 0 {
		m["installments"] = d.Installments
	}
	return m
}
