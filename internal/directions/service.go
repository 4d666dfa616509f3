package directions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/clinic-billing/internal/accruals"
	"github.com/odyssey-erp/clinic-billing/internal/months"
	"github.com/odyssey-erp/clinic-billing/internal/shared"
	"github.com/odyssey-erp/clinic-billing/internal/tariffs"
)

const idempotencyModule = "directions"

// MonthResolver maps dates to month rows.
type MonthResolver interface {
	Resolve(ctx context.Context, date time.Time) (months.Month, error)
}

// TariffResolver returns the current contract of a subject.
type TariffResolver interface {
	Current(ctx context.Context, subject tariffs.Subject, subjectID int64) (tariffs.Contract, bool, error)
}

// ServiceMatcher classifies ordered services.
type ServiceMatcher interface {
	GroupsOf(ctx context.Context, serviceIDs []int64) ([]int64, error)
	PriceEntry(ctx context.Context, tariffID, groupID int64) (tariffs.PriceEntry, bool, error)
	SpecialServices(ctx context.Context) (tariffs.SpecialServices, error)
}

// LedgerPort is the accrual ledger as used by Processor.
type LedgerPort interface {
	Lock(ctx context.Context, keys ...accruals.Key) (func(), error)
	FetchOrCreate(ctx context.Context, key accruals.Key, seed accruals.Seed) (*accruals.Record, error)
	ApplyDelta(rec *accruals.Record, field accruals.Field, amount decimal.Decimal) error
	Persist(ctx context.Context, rec *accruals.Record) error
}

// RepositoryPort stores directions.
type RepositoryPort interface {
	Insert(ctx context.Context, dir *Direction) error
}

// IdempotencyPort claims request ids.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// SubjectNamer returns display names of clinics and doctors.
type SubjectNamer interface {
	SubjectTitle(ctx context.Context, subject tariffs.Subject, subjectID int64) (string, error)
}

// MetricsRecorder counts processed orders by outcome and final stage.
type MetricsRecorder interface {
	RecordDirection(outcome, stage string)
}

// Deps groups Processor collaborators. Subjects, Idempotency, Audit and
// Metrics are optional; without Subjects new ledger rows are untitled.
type Deps struct {
	Months      MonthResolver
	Tariffs     TariffResolver
	Matcher     ServiceMatcher
	Ledger      LedgerPort
	Repo        RepositoryPort
	Subjects    SubjectNamer
	Idempotency IdempotencyPort
	Audit       AuditPort
	Metrics     MetricsRecorder
	Logger      *slog.Logger
}

// Processor turns a service order into ledger accruals and a stored direction.
type Processor struct {
	Deps
	validate *validator.Validate
}

// NewProcessor builds a Processor.
func NewProcessor(deps Deps) *Processor {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Processor{Deps: deps, validate: shared.NewValidator()}
}

// Process runs an order through validation, tariff resolution, ledger
// preparation, service matching and persistence. Expected refusals are
// *RejectionError; anything else is a storage failure. Ledger rows persisted
// before a later failure stay persisted.
func (p *Processor) Process(ctx context.Context, in Input) (dir Direction, err error) {
	stage := StageValidating
	defer func() {
		p.observe(stage, err)
	}()

	errs, err := shared.ValidateStruct(p.validate, in)
	if err != nil {
		return Direction{}, err
	}
	if errs.Any() {
		return Direction{}, reject(stage, errs)
	}
	date, err := months.ParseDate(in.Date)
	if err != nil {
		return Direction{}, reject(stage, shared.ValidationErrors{"date": "must be a date formatted as " + months.DateLayout})
	}

	// written is set once counters may have reached storage; a retry with
	// the same request id must then be refused.
	written := false
	requestID := uuid.New()
	if in.RequestID != "" {
		requestID, err = uuid.Parse(in.RequestID)
		if err != nil {
			return Direction{}, reject(stage, shared.ValidationErrors{"request_id": "must be a valid UUID"})
		}
		claim := "direction:" + requestID.String()
		if p.Idempotency != nil {
			if err := p.Idempotency.CheckAndInsert(ctx, claim, idempotencyModule); err != nil {
				if errors.Is(err, shared.ErrIdempotencyConflict) {
					return Direction{}, ErrAlreadyProcessed
				}
				return Direction{}, fmt.Errorf("directions: claim request: %w", err)
			}
			defer func() {
				if err == nil {
					return
				}
				if written {
					p.Logger.Warn("direction failed after ledger write, request id stays claimed",
						slog.String("key", claim), slog.Any("error", err))
					return
				}
				p.release(claim)
			}()
		}
	}

	month, err := p.Months.Resolve(ctx, date)
	if err != nil {
		return Direction{}, err
	}
	dir = Direction{
		RequestID:   requestID,
		Date:        date,
		PatientID:   in.PatientID,
		PatientName: in.PatientName,
		DoctorID:    in.DoctorID,
		ClinicID:    in.ClinicID,
		ServiceIDs:  in.ServiceIDs,
		MonthID:     month.ID,
		Title:       in.Date + " " + in.PatientName,
	}

	stage = StageTariffResolved
	doctorTariff, clinicTariff, err := p.resolveTariffs(ctx, in.DoctorID, in.ClinicID)
	if err != nil {
		return Direction{}, err
	}

	stage = StageLedgersReady
	doctorTitle, clinicTitle, err := p.subjectTitles(ctx, in.DoctorID, in.ClinicID)
	if err != nil {
		return Direction{}, err
	}
	clinicKey := accruals.ClinicKey(in.ClinicID, month.ID)
	doctorKey := accruals.DoctorKey(in.DoctorID, in.ClinicID, month.ID)
	release, err := p.Ledger.Lock(ctx, clinicKey, doctorKey)
	if err != nil {
		return Direction{}, err
	}
	defer release()

	clinicRow, err := p.Ledger.FetchOrCreate(ctx, clinicKey, accruals.Seed{Contract: clinicTariff, Title: clinicTitle})
	if err != nil {
		return Direction{}, subRecordErr(stage, KeyClinicAccrual, err)
	}
	doctorRow, err := p.Ledger.FetchOrCreate(ctx, doctorKey, accruals.Seed{Contract: doctorTariff, ClinicAccrualID: clinicRow.ID, Title: doctorTitle})
	if err != nil {
		return Direction{}, subRecordErr(stage, KeyDoctorAccrual, err)
	}

	stage = StageMatched
	if err := p.match(ctx, clinicRow, doctorRow, clinicTariff, in.ServiceIDs); err != nil {
		return Direction{}, err
	}

	stage = StagePersisted
	if err := p.Ledger.Persist(ctx, clinicRow); err != nil {
		_, rejected := shared.AsValidationErrors(err)
		written = !rejected
		return Direction{}, subRecordErr(stage, KeyClinicAccrual, err)
	}
	written = true
	if err := p.Ledger.Persist(ctx, doctorRow); err != nil {
		return Direction{}, subRecordErr(stage, KeyDoctorAccrual, err)
	}
	errs, err = shared.ValidateStruct(p.validate, dir)
	if err != nil {
		return Direction{}, err
	}
	if errs.Any() {
		return Direction{}, reject(stage, tag(KeyDirection, errs))
	}
	if err := p.Repo.Insert(ctx, &dir); err != nil {
		return Direction{}, err
	}

	p.audit(ctx, dir, clinicRow, doctorRow)
	p.Logger.Info("direction processed",
		slog.Int64("direction_id", dir.ID),
		slog.Int64("clinic_id", dir.ClinicID),
		slog.Int64("doctor_id", dir.DoctorID),
		slog.Int64("month_id", dir.MonthID),
		slog.String("clinic_total", clinicRow.TotalSum.String()),
		slog.String("doctor_total", doctorRow.TotalSum.String()))
	return dir, nil
}

// resolveTariffs looks both contracts up concurrently. Missing contracts are
// reported together.
func (p *Processor) resolveTariffs(ctx context.Context, doctorID, clinicID int64) (doctor, clinic tariffs.Contract, err error) {
	var doctorFound, clinicFound bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		doctor, doctorFound, err = p.Tariffs.Current(gctx, tariffs.SubjectDoctor, doctorID)
		return err
	})
	g.Go(func() error {
		var err error
		clinic, clinicFound, err = p.Tariffs.Current(gctx, tariffs.SubjectClinic, clinicID)
		return err
	})
	if err := g.Wait(); err != nil {
		return tariffs.Contract{}, tariffs.Contract{}, err
	}

	errs := shared.ValidationErrors{}
	if !doctorFound {
		errs.Add("doctor_id", "doctor has no tariff contract")
	}
	if !clinicFound {
		errs.Add("clinic_id", "clinic has no tariff contract")
	}
	if errs.Any() {
		return tariffs.Contract{}, tariffs.Contract{}, reject(StageTariffResolved, errs)
	}
	return doctor, clinic, nil
}

// subjectTitles looks up the names new ledger rows are titled with. Unknown
// subjects yield an empty title.
func (p *Processor) subjectTitles(ctx context.Context, doctorID, clinicID int64) (doctor, clinic string, err error) {
	if p.Subjects == nil {
		return "", "", nil
	}
	lookup := func(ctx context.Context, subject tariffs.Subject, id int64, dst *string) error {
		title, err := p.Subjects.SubjectTitle(ctx, subject, id)
		if errors.Is(err, tariffs.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("directions: %s %d title: %w", subject, id, err)
		}
		*dst = title
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return lookup(gctx, tariffs.SubjectDoctor, doctorID, &doctor) })
	g.Go(func() error { return lookup(gctx, tariffs.SubjectClinic, clinicID, &clinic) })
	if err := g.Wait(); err != nil {
		return "", "", err
	}
	return doctor, clinic, nil
}

type tier struct {
	row      *accruals.Record
	tariffID int64
	qty      accruals.Field
	sum      accruals.Field
}

// match applies material-draw services to the clinic row at current clinic
// prices, then prices the remaining groups against each snapshotted tier.
func (p *Processor) match(ctx context.Context, clinicRow, doctorRow *accruals.Record, clinicTariff tariffs.Contract, serviceIDs []int64) error {
	special, err := p.Matcher.SpecialServices(ctx)
	if err != nil {
		return err
	}

	var blood, smear bool
	rest := make([]int64, 0, len(serviceIDs))
	for _, id := range serviceIDs {
		switch {
		case special.BloodID != 0 && id == special.BloodID:
			blood = true
		case special.SmearID != 0 && id == special.SmearID:
			smear = true
		default:
			rest = append(rest, id)
		}
	}
	one := decimal.NewFromInt(1)
	if blood {
		if err := p.bump(clinicRow, accruals.FieldBloodQty, one, accruals.FieldBloodSum, clinicTariff.BloodPrice); err != nil {
			return err
		}
	}
	if smear {
		if err := p.bump(clinicRow, accruals.FieldSmearQty, one, accruals.FieldSmearSum, clinicTariff.SmearPrice); err != nil {
			return err
		}
	}

	groups, err := p.Matcher.GroupsOf(ctx, rest)
	if err != nil {
		return err
	}
	tiers := []tier{
		{clinicRow, clinicRow.FixedTariffID, accruals.FieldFixedQty, accruals.FieldFixedSum},
		{clinicRow, clinicRow.FloatTariffID, accruals.FieldFloatQty, accruals.FieldFloatSum},
		{clinicRow, clinicRow.ChiefTariffID, accruals.FieldChiefQty, accruals.FieldChiefSum},
		{doctorRow, doctorRow.FixedTariffID, accruals.FieldFixedQty, accruals.FieldFixedSum},
		{doctorRow, doctorRow.FloatTariffID, accruals.FieldFloatQty, accruals.FieldFloatSum},
	}
	for _, t := range tiers {
		for _, group := range groups {
			entry, ok, err := p.Matcher.PriceEntry(ctx, t.tariffID, group)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			// percent entries are accrued as their raw value
			if err := p.bump(t.row, t.qty, one, t.sum, entry.Price); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Processor) bump(row *accruals.Record, qty accruals.Field, n decimal.Decimal, sum accruals.Field, amount decimal.Decimal) error {
	if err := p.Ledger.ApplyDelta(row, qty, n); err != nil {
		return err
	}
	return p.Ledger.ApplyDelta(row, sum, amount)
}

func subRecordErr(stage Stage, key string, err error) error {
	if errs, ok := shared.AsValidationErrors(err); ok {
		return reject(stage, tag(key, errs))
	}
	return err
}

func (p *Processor) release(claim string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Idempotency.Delete(ctx, claim); err != nil {
		p.Logger.Warn("release idempotency claim", slog.String("key", claim), slog.Any("error", err))
	}
}

func (p *Processor) audit(ctx context.Context, dir Direction, clinicRow, doctorRow *accruals.Record) {
	if p.Audit == nil {
		return
	}
	err := p.Audit.Record(ctx, shared.AuditLog{
		Action:   "direction.processed",
		Entity:   "direction",
		EntityID: strconv.FormatInt(dir.ID, 10),
		Meta: map[string]any{
			"request_id":        dir.RequestID.String(),
			"clinic_accrual_id": clinicRow.ID,
			"doctor_accrual_id": doctorRow.ID,
			"services":          dir.ServiceIDs,
		},
	})
	if err != nil {
		p.Logger.Warn("audit direction", slog.Int64("direction_id", dir.ID), slog.Any("error", err))
	}
}

func (p *Processor) observe(stage Stage, err error) {
	if p.Metrics == nil {
		return
	}
	outcome := "processed"
	rej, rejected := AsRejection(err)
	switch {
	case err == nil:
	case rejected:
		outcome, stage = "rejected", rej.Stage
	case errors.Is(err, ErrAlreadyProcessed):
		outcome = "duplicate"
	default:
		outcome = "failed"
	}
	p.Metrics.RecordDirection(outcome, string(stage))
}
