package repository

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/crowdfundme/crowdfund-server/internal/model"
	"gorm.io/gorm/schema"
)

// NewMemory 进程内存储，用于本地运行和测试
func NewMemory() *Store {
	return &Store{
		Campaigns: &memCampaigns{rows: map[string]model.CampaignModel{}},
		Contributors: &memContributors{
			rows:       map[string]model.ContributorModel{},
			signatures: map[string]struct{}{},
		},
	}
}

var (
	campaignSchemaOnce sync.Once
	campaignSchema     *schema.Schema
	campaignSchemaErr  error
)

// columnField 把列名映射到结构体字段，与 gorm 使用相同的命名规则
func columnField(column string) (string, error) {
	campaignSchemaOnce.Do(func() {
		campaignSchema, campaignSchemaErr = schema.Parse(&model.CampaignModel{}, &sync.Map{}, schema.NamingStrategy{SingularTable: true})
	})
	if campaignSchemaErr != nil {
		return "", campaignSchemaErr
	}
	f := campaignSchema.LookUpField(column)
	if f == nil {
		return "", fmt.Errorf("unknown column %q", column)
	}
	return f.Name, nil
}

// applyFields 按列名修改活动字段，类型不一致时尝试转换
func applyFields(c *model.CampaignModel, fields Fields) error {
	rv := reflect.ValueOf(c).Elem()
	for column, v := range fields {
		name, err := columnField(column)
		if err != nil {
			return err
		}
		fv := rv.FieldByName(name)
		if v == nil {
			fv.Set(reflect.Zero(fv.Type()))
			continue
		}

		val := reflect.ValueOf(v)
		switch {
		case val.Type().AssignableTo(fv.Type()):
		case val.Type().ConvertibleTo(fv.Type()):
			val = val.Convert(fv.Type())
		case fv.Kind() == reflect.Ptr && val.Type().ConvertibleTo(fv.Type().Elem()):
			p := reflect.New(fv.Type().Elem())
			p.Elem().Set(val.Convert(fv.Type().Elem()))
			val = p
		case val.Kind() == reflect.Ptr && !val.IsNil() && val.Elem().Type().ConvertibleTo(fv.Type()):
			val = val.Elem().Convert(fv.Type())
		default:
			return fmt.Errorf("column %q: cannot assign %T", column, v)
		}
		fv.Set(val)
	}
	c.UpdatedAt = time.Now()
	return nil
}

type memCampaigns struct {
	mu   sync.Mutex
	rows map[string]model.CampaignModel
}

func (r *memCampaigns) Create(_ context.Context, c *model.CampaignModel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[c.Id]; ok {
		return ErrDuplicate
	}
	for _, row := range r.rows {
		if c.FeeTxSignature != "" && row.FeeTxSignature == c.FeeTxSignature {
			return ErrDuplicate
		}
	}
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	r.rows[c.Id] = *c
	return nil
}

func (r *memCampaigns) Get(_ context.Context, id string) (*model.CampaignModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &row, nil
}

func (r *memCampaigns) FeeSignatureUsed(_ context.Context, sig string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.FeeTxSignature == sig {
			return true, nil
		}
	}
	return false, nil
}

func (r *memCampaigns) Update(_ context.Context, id string, fields Fields) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.update(id, fields)
}

func (r *memCampaigns) update(id string, fields Fields) error {
	row, ok := r.rows[id]
	if !ok {
		return ErrNotFound
	}
	if err := applyFields(&row, fields); err != nil {
		return err
	}
	r.rows[id] = row
	return nil
}

func (r *memCampaigns) MarkCompleted(_ context.Context, id string, fields Fields) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.Status != model.CampaignStatusActive {
		return false, nil
	}
	updates := Fields{"status": model.CampaignStatusCompleted}
	for k, v := range fields {
		updates[k] = v
	}
	return true, r.update(id, updates)
}

func (r *memCampaigns) EnterPending(_ context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || !row.CanEnterLaunch() {
		return false, nil
	}
	return true, r.update(id, enterPendingFields(now))
}

func (r *memCampaigns) BeginAttempt(_ context.Context, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return ErrNotFound
	}
	return r.update(id, Fields{
		"launch_attempts":   row.LaunchAttempts + 1,
		"launch_started_at": &now,
	})
}

func (r *memCampaigns) ListByLaunchStatus(_ context.Context, status model.LaunchStatus) ([]model.CampaignModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.CampaignModel, 0)
	for _, row := range r.rows {
		if row.Status == model.CampaignStatusCompleted && row.LaunchStatus == status {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CompletedAt == nil || out[j].CompletedAt == nil {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CompletedAt.Before(*out[j].CompletedAt)
	})
	return out, nil
}

func (r *memCampaigns) ListReachedTarget(_ context.Context) ([]model.CampaignModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.CampaignModel, 0)
	for _, row := range r.rows {
		if row.Status == model.CampaignStatusActive && row.CurrentDonatedLamports >= row.TargetLamports {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

type memContributors struct {
	mu            sync.Mutex
	rows          map[string]model.ContributorModel
	contributions []model.ContributionModel
	signatures    map[string]struct{}
	nextID        int64
}

func (r *memContributors) Register(_ context.Context, address string) (*model.ContributorModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.ensure(address)
	return &row, nil
}

func (r *memContributors) ensure(address string) model.ContributorModel {
	row, ok := r.rows[address]
	if !ok {
		now := time.Now()
		row = model.ContributorModel{Address: address, CreatedAt: now, UpdatedAt: now}
		r.rows[address] = row
	}
	return row
}

func (r *memContributors) Get(_ context.Context, address string) (*model.ContributorModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[address]
	if !ok {
		return nil, ErrNotFound
	}
	return &row, nil
}

func (r *memContributors) SignatureUsed(_ context.Context, sig string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.signatures[sig]
	return ok, nil
}

func (r *memContributors) AddContribution(_ context.Context, c *model.ContributionModel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.signatures[c.Signature]; ok {
		return ErrDuplicate
	}
	r.nextID++
	c.Id = r.nextID
	c.CreatedAt = time.Now()
	r.contributions = append(r.contributions, *c)
	r.signatures[c.Signature] = struct{}{}

	row := r.ensure(c.ContributorAddress)
	row.TotalContributedLamports += c.AmountLamports
	row.UpdatedAt = c.CreatedAt
	r.rows[c.ContributorAddress] = row
	return nil
}

func (r *memContributors) ListContributions(_ context.Context, address string) ([]model.ContributionModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ContributionModel, 0)
	for _, row := range r.contributions {
		if row.ContributorAddress == address {
			out = append(out, row)
		}
	}
	return out, nil
}
