package monitor

import (
	"context"
	"net/mail"
	"sync"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/trezcool/masomo-focus/core"
)

var (
	// errors
	ErrNoActiveSession = errors.New("no active session")
	ErrSessionActive   = errors.New("a session is already active for this learner")
)

type (
	// StartParams are the settings of a new session, as sent by the learner's client.
	StartParams struct {
		Kind                 Kind            `json:"kind"`
		TotalDurationSeconds float64         `json:"total_duration_seconds"`
		TimeLimitSeconds     float64         `json:"time_limit_seconds"`
		Rules                CompletionRules `json:"rules"`
	}

	// View is the live state of an active session.
	View struct {
		Record    Record    `json:"record"`
		Validity  Validity  `json:"validity"`
		Snapshot  Snapshot  `json:"snapshot"`
		Debounced Debounced `json:"debounced"`
	}

	FaceReport struct {
		Present    bool    `json:"present"`
		Confidence float64 `json:"confidence" validate:"ratio"`
		Error      string  `json:"error"`
	}

	PlaybackReport struct {
		Playing  bool     `json:"playing"`
		Position *float64 `json:"position_seconds" validate:"omitempty,min=0"`
	}

	active struct {
		sess    *Session
		remote  *Remote
		limiter *rate.Limiter
		kick    chan struct{}
		cancel  context.CancelFunc
		done    sync.Once
	}

	// Service runs the monitored sessions, at most one per learner, and persists their progress.
	Service struct {
		repo       Repository
		mailSvc    core.EmailService
		logger     core.Logger
		validate   *validator.Validate
		translator ut.Translator
		conf       core.MonitorConfig
		appName    string

		mu       sync.Mutex
		sessions map[string]*active // by learner
		wg       sync.WaitGroup
	}
)

func NewService(
	conf *core.Config,
	repo Repository,
	mailSvc core.EmailService,
	logger core.Logger,
	validate *validator.Validate,
	translator ut.Translator,
) *Service {
	return &Service{
		repo:       repo,
		mailSvc:    mailSvc,
		logger:     logger,
		validate:   validate,
		translator: translator,
		conf:       conf.Monitor,
		appName:    conf.AppName,
		sessions:   make(map[string]*active),
	}
}

// Start starts monitoring a new session for the learner.
func (svc *Service) Start(ctx context.Context, learnerID string, p StartParams) (Record, error) {
	opts := Options{
		ID:                   uuid.New().String(),
		LearnerID:            core.CleanString(learnerID),
		Kind:                 Kind(core.CleanString(string(p.Kind), true /* lower */)),
		TotalDurationSeconds: p.TotalDurationSeconds,
		TimeLimit:            core.SecondsDuration(p.TimeLimitSeconds),
		Rules:                p.Rules,
		TickInterval:         svc.conf.TickInterval,
		CameraTimeout:        svc.conf.CameraTimeout,
	}
	if err := svc.validate.Struct(opts); err != nil {
		return Record{}, core.TranslateValidationError(err, ErrConfiguration, svc.translator)
	}
	policy, err := PolicyFor(opts.Kind)
	if err != nil {
		return Record{}, core.NewValidationError(ErrConfiguration, core.FieldError{Field: "kind", Error: err.Error()})
	}
	if policy.SkipDetection && svc.conf.SkipThreshold > 0 {
		policy.SkipThreshold = svc.conf.SkipThreshold
	}
	opts.Policy = policy

	remote := NewRemote(svc.conf.SignalStaleAfter)
	sources := Sources{Face: remote, Focus: remote, Camera: remote}
	if opts.Kind != KindQuiz {
		sources.Playback = remote
	}
	sess := NewSession(opts, sources, svc.logger)

	// not bound to the request context
	runCtx, cancel := context.WithCancel(context.Background())
	a := &active{
		sess:    sess,
		remote:  remote,
		limiter: rate.NewLimiter(rate.Every(svc.conf.SyncInterval), 1),
		kick:    make(chan struct{}, 1),
		cancel:  cancel,
	}

	svc.mu.Lock()
	if _, ok := svc.sessions[opts.LearnerID]; ok {
		svc.mu.Unlock()
		cancel()
		return Record{}, ErrSessionActive
	}
	svc.sessions[opts.LearnerID] = a
	svc.mu.Unlock()

	rec := sess.Record()
	if err := svc.repo.SaveRecord(ctx, rec); err != nil {
		svc.detach(a)
		cancel()
		return Record{}, errors.Wrap(err, "saving session record")
	}

	sess.OnValidityChange(func(old, new Validity) {
		svc.logger.Debug("validity changed", map[string]interface{}{
			"session": opts.ID, "valid": new.Valid, "reason": new.Reason.String(),
		})
	})
	sess.OnTick(func() {
		select {
		case a.kick <- struct{}{}:
		default:
		}
	})

	svc.wg.Add(2)
	go func() {
		defer svc.wg.Done()
		if err := sess.Start(runCtx); err != nil {
			svc.logger.Error("starting session", errors.Wrap(err, opts.ID))
			return
		}
		sess.Run(runCtx)
	}()
	go func() {
		defer svc.wg.Done()
		svc.syncLoop(runCtx, a)
	}()

	svc.logger.Info("session started", map[string]interface{}{"session": opts.ID, "learner": opts.LearnerID, "kind": string(opts.Kind)})
	return rec, nil
}

// syncLoop persists the progress of a session at most once per sync interval,
// and finalizes it once monitoring ended on its own.
func (svc *Service) syncLoop(ctx context.Context, a *active) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.kick:
			if a.sess.Ended() {
				svc.finalize(a)
				return
			}
			if a.limiter.Allow() {
				svc.sync(ctx, a)
			}
		}
	}
}

// sync writes the current record, then the violations recorded since the last sync.
// Violations that could not be written are kept for the next sync.
func (svc *Service) sync(ctx context.Context, a *active) bool {
	if err := svc.repo.SaveRecord(ctx, a.sess.Record()); err != nil {
		svc.logger.Error("syncing session record", errors.Wrap(err, a.sess.ID()))
		return false
	}
	vs := a.sess.DrainViolations()
	if len(vs) == 0 {
		return true
	}
	if err := svc.repo.AppendViolations(ctx, a.sess.ID(), vs); err != nil {
		a.sess.RequeueViolations(vs)
		svc.logger.Error("syncing session violations", errors.Wrap(err, a.sess.ID()))
		return false
	}
	return true
}

func (svc *Service) get(learnerID string) (*active, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	a, ok := svc.sessions[core.CleanString(learnerID)]
	if !ok {
		return nil, ErrNoActiveSession
	}
	return a, nil
}

func (svc *Service) detach(a *active) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	lid := a.sess.Options().LearnerID
	if svc.sessions[lid] == a {
		delete(svc.sessions, lid)
	}
}

// close stops a session and writes its last state.
// Only the first call for a session does the writing; it returns true.
func (svc *Service) close(a *active, finalize bool) (res CompletionResult, rec Record, first bool) {
	if finalize {
		res, rec = a.sess.Finalize()
	} else {
		a.sess.Stop()
		rec = a.sess.Record()
	}
	a.done.Do(func() {
		first = true
		a.cancel()
		svc.detach(a)
		ctx, cancel := context.WithTimeout(context.Background(), svc.conf.SyncInterval)
		defer cancel()
		svc.sync(ctx, a)
	})
	return res, rec, first
}

func (svc *Service) finalize(a *active) (CompletionResult, Record) {
	res, rec, first := svc.close(a, true)
	if first {
		svc.logger.Info("session finalized", map[string]interface{}{
			"session": rec.ID, "accepted": res.Accepted, "reasons": res.Reasons,
		})
		if !res.Accepted {
			svc.sendIntegrityAlert(rec)
		}
	}
	return res, rec
}

// Stop stops monitoring the learner's active session without finalizing it.
func (svc *Service) Stop(_ context.Context, learnerID string) (Record, error) {
	a, err := svc.get(learnerID)
	if err != nil {
		return Record{}, err
	}
	_, rec, _ := svc.close(a, false)
	svc.logger.Info("session stopped", map[string]interface{}{"session": rec.ID})
	return rec, nil
}

// Finalize stops the learner's active session and evaluates its completion.
func (svc *Service) Finalize(_ context.Context, learnerID string) (CompletionResult, Record, error) {
	a, err := svc.get(learnerID)
	if err != nil {
		return CompletionResult{}, Record{}, err
	}
	res, rec := svc.finalize(a)
	return res, rec, nil
}

// FinalizeRecord finalizes a session by ID, e.g. one stopped earlier.
// A record finalized already is returned as is.
func (svc *Service) FinalizeRecord(ctx context.Context, id string) (CompletionResult, Record, error) {
	svc.mu.Lock()
	var found *active
	for _, a := range svc.sessions {
		if a.sess.ID() == id {
			found = a
			break
		}
	}
	svc.mu.Unlock()
	if found != nil {
		res, rec := svc.finalize(found)
		return res, rec, nil
	}

	rec, err := svc.repo.GetRecord(ctx, id)
	if err != nil {
		return CompletionResult{}, Record{}, err
	}
	if rec.Finalized() {
		return *rec.Result, rec, nil
	}
	res := EvaluateCompletion(rec, rec.Rules)
	rec.Result = &res
	rec.Completed = res.Accepted
	rec.FinalizedAt = nowFunc()
	if err := svc.repo.SaveRecord(ctx, rec); err != nil {
		return CompletionResult{}, Record{}, errors.Wrap(err, "saving finalized record")
	}
	svc.logger.Info("session finalized", map[string]interface{}{
		"session": rec.ID, "accepted": res.Accepted, "reasons": res.Reasons,
	})
	if !res.Accepted {
		svc.sendIntegrityAlert(rec)
	}
	return res, rec, nil
}

// Current returns the live state of the learner's active session.
func (svc *Service) Current(learnerID string) (View, error) {
	a, err := svc.get(learnerID)
	if err != nil {
		return View{}, err
	}
	return View{
		Record:    a.sess.Record(),
		Validity:  a.sess.Validity(),
		Snapshot:  a.sess.Snapshot(),
		Debounced: a.sess.Debounced(),
	}, nil
}

// ReportFace stores the result of a face detection run by the client.
func (svc *Service) ReportFace(learnerID string, r FaceReport) error {
	if err := svc.validate.Struct(r); err != nil {
		return core.TranslateValidationError(err, ErrSignalUnavailable, svc.translator)
	}
	a, err := svc.get(learnerID)
	if err != nil {
		return err
	}
	a.remote.ReportFace(Detection{Present: r.Present, Confidence: r.Confidence}, r.Error)
	return nil
}

// ReportFocus stores the focus state of the client and reacts to it right away.
func (svc *Service) ReportFocus(ctx context.Context, learnerID string, f FocusState) (Validity, error) {
	a, err := svc.get(learnerID)
	if err != nil {
		return Validity{}, err
	}
	a.remote.ReportFocus(f)
	a.sess.Tick(ctx, nowFunc())
	return a.sess.Validity(), nil
}

func (svc *Service) ReportCamera(ctx context.Context, learnerID string, on bool) (Validity, error) {
	a, err := svc.get(learnerID)
	if err != nil {
		return Validity{}, err
	}
	a.remote.ReportCamera(on)
	a.sess.Tick(ctx, nowFunc())
	return a.sess.Validity(), nil
}

// ReportPlayback stores the playback state of the client; a reported position feeds skip detection.
func (svc *Service) ReportPlayback(ctx context.Context, learnerID string, r PlaybackReport) (Validity, error) {
	if err := svc.validate.Struct(r); err != nil {
		return Validity{}, core.TranslateValidationError(err, ErrSignalUnavailable, svc.translator)
	}
	a, err := svc.get(learnerID)
	if err != nil {
		return Validity{}, err
	}
	a.remote.ReportPlayback(r.Playing)
	now := nowFunc()
	if r.Position != nil {
		if ev, ok := a.sess.ReportPosition(*r.Position, now); ok {
			svc.logger.Debug("skip detected", map[string]interface{}{
				"session": a.sess.ID(), "from": ev.From, "to": ev.To,
			})
		}
	}
	a.sess.Tick(ctx, now)
	return a.sess.Validity(), nil
}

// DrainCommands returns the player commands the client has to apply.
func (svc *Service) DrainCommands(learnerID string) ([]string, error) {
	a, err := svc.get(learnerID)
	if err != nil {
		return nil, err
	}
	return a.remote.DrainCommands(), nil
}

// GetRecord returns a session record, live if the session is still active.
func (svc *Service) GetRecord(ctx context.Context, id string) (Record, error) {
	svc.mu.Lock()
	for _, a := range svc.sessions {
		if a.sess.ID() == id {
			svc.mu.Unlock()
			return a.sess.Record(), nil
		}
	}
	svc.mu.Unlock()
	return svc.repo.GetRecord(ctx, id)
}

func (svc *Service) GetViolations(ctx context.Context, id string) ([]Violation, error) {
	if _, err := svc.GetRecord(ctx, id); err != nil {
		return nil, err
	}
	return svc.repo.QueryViolations(ctx, id)
}

func (svc *Service) QueryRecords(ctx context.Context, filter RecordFilter) ([]Record, error) {
	filter.LearnerID = core.CleanString(filter.LearnerID)
	filter.Ordering = CleanOrdering(filter.Ordering)
	return svc.repo.QueryRecords(ctx, filter)
}

// Purge deletes the records started before t.
func (svc *Service) Purge(ctx context.Context, t time.Time) (int64, error) {
	n, err := svc.repo.DeleteRecordsBefore(ctx, t)
	if err != nil {
		return 0, errors.Wrap(err, "purging session records")
	}
	svc.logger.Info("session records purged", map[string]interface{}{"count": n, "before": t})
	return n, nil
}

// Shutdown stops every active session, writes their last state and waits for their goroutines.
func (svc *Service) Shutdown(ctx context.Context) error {
	svc.mu.Lock()
	actives := make([]*active, 0, len(svc.sessions))
	for _, a := range svc.sessions {
		actives = append(actives, a)
	}
	svc.mu.Unlock()

	for _, a := range actives {
		_, _, _ = svc.close(a, false)
	}

	done := make(chan struct{})
	go func() {
		svc.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for sessions")
	}
}

func (svc *Service) sendIntegrityAlert(rec Record) {
	if svc.conf.AlertEmail == "" || svc.mailSvc == nil {
		return
	}
	to, err := mail.ParseAddress(svc.conf.AlertEmail)
	if err != nil {
		svc.logger.Error("parsing alert email", err)
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{*to},
		Subject:      "[" + svc.appName + "] Session " + rec.ID + " rejected",
		Template:     integrityAlertTmpl,
		TemplateData: rec,
	})
}
