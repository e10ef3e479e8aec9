package repo

import (
	"context"
	"errors"
	"fmt"
	"gorm.io/gorm"
	"outreach/entity"
	"outreach/pkg/goutil"
	"time"
)

var (
	ErrCampaignNotFound = errors.New("campaign not found")
)

type Campaign struct {
	ID             *uint64
	Company        *string `gorm:"type:varchar(255)"`
	Topic          *string `gorm:"type:varchar(255)"`
	Status         *uint32 `gorm:"index"`
	TotalEmails    *uint64
	SentCount      *uint64 `gorm:"default:0"`
	DeliveredCount *uint64 `gorm:"default:0"`
	OpenedCount    *uint64 `gorm:"default:0"`
	ClickedCount   *uint64 `gorm:"default:0"`
	BouncedCount   *uint64 `gorm:"default:0"`
	BlockedCount   *uint64 `gorm:"default:0"`
	CreateTime     *uint64
	UpdateTime     *uint64
}

func (m *Campaign) TableName() string {
	return "campaign_tab"
}

func (m *Campaign) GetID() uint64 {
	if m != nil && m.ID != nil {
		return *m.ID
	}
	return 0
}

func (m *Campaign) GetStatus() uint32 {
	if m != nil && m.Status != nil {
		return *m.Status
	}
	return 0
}

type CampaignRepo interface {
	Create(ctx context.Context, campaign *entity.Campaign) (uint64, error)
	GetByID(ctx context.Context, campaignID uint64) (*entity.Campaign, error)
	GetMany(ctx context.Context, status entity.CampaignStatus, p *Pagination) ([]*entity.Campaign, *entity.Pagination, error)
	// UpdateStatus moves the campaign to status only if it is currently in
	// one of from, and reports whether the row changed.
	UpdateStatus(ctx context.Context, campaignID uint64, from []entity.CampaignStatus, status entity.CampaignStatus) (bool, error)
	// IncrCounter adds one to counter in a single statement. The sent
	// counter never grows past total_emails.
	IncrCounter(ctx context.Context, campaignID uint64, counter entity.CampaignCounter) (bool, error)
}

type campaignRepo struct {
	baseRepo
}

func NewCampaignRepo(_ context.Context, orm *gorm.DB) CampaignRepo {
	return &campaignRepo{baseRepo{orm: orm}}
}

func (r *campaignRepo) Create(ctx context.Context, campaign *entity.Campaign) (uint64, error) {
	campaignModel := ToCampaignModel(campaign)
	if err := r.getDb(ctx).Create(campaignModel).Error; err != nil {
		return 0, err
	}

	campaign.ID = campaignModel.ID

	return campaignModel.GetID(), nil
}

func (r *campaignRepo) GetByID(ctx context.Context, campaignID uint64) (*entity.Campaign, error) {
	campaign := new(Campaign)
	if err := r.getDb(ctx).Where("id = ?", campaignID).First(campaign).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}

	return ToCampaign(campaign), nil
}

func (r *campaignRepo) GetMany(ctx context.Context, status entity.CampaignStatus, p *Pagination) ([]*entity.Campaign, *entity.Pagination, error) {
	f := &Filter{
		Pagination: p,
	}
	if status != entity.CampaignStatusUnknown {
		f.Conditions = append(f.Conditions, &Condition{
			Field: "status",
			Op:    OpEq,
			Value: uint32(status),
		})
	}

	var (
		sqlQuery, args = ToSqlWithArgs(f)
		query          = r.getDb(ctx).Model(new(Campaign)).Where(sqlQuery, args...)
	)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return nil, nil, err
	}

	var (
		limit = p.GetLimit()
		page  = p.GetPage()
	)
	if page == 0 {
		page = 1
	}

	query = query.Offset(int((page - 1) * limit)).Order("id DESC")
	if limit > 0 {
		query = query.Limit(int(limit + 1))
	}

	campaignModels := make([]*Campaign, 0)
	if err := query.Find(&campaignModels).Error; err != nil {
		return nil, nil, err
	}

	var hasNext bool
	if limit > 0 && len(campaignModels) > int(limit) {
		hasNext = true
		campaignModels = campaignModels[:limit]
	}

	campaigns := make([]*entity.Campaign, len(campaignModels))
	for i, campaignModel := range campaignModels {
		campaigns[i] = ToCampaign(campaignModel)
	}

	return campaigns, &entity.Pagination{
		Page:    goutil.Uint32(page),
		Limit:   goutil.Uint32(limit),
		HasNext: goutil.Bool(hasNext),
		Total:   goutil.Int64(count),
	}, nil
}

func (r *campaignRepo) UpdateStatus(ctx context.Context, campaignID uint64, from []entity.CampaignStatus, status entity.CampaignStatus) (bool, error) {
	fromStatuses := make([]uint32, len(from))
	for i, s := range from {
		fromStatuses[i] = uint32(s)
	}

	res := r.getDb(ctx).
		Model(new(Campaign)).
		Where("id = ? AND status IN ?", campaignID, fromStatuses).
		Updates(map[string]interface{}{
			"status":      uint32(status),
			"update_time": uint64(time.Now().Unix()),
		})
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

func (r *campaignRepo) IncrCounter(ctx context.Context, campaignID uint64, counter entity.CampaignCounter) (bool, error) {
	query := r.getDb(ctx).Model(new(Campaign)).Where("id = ?", campaignID)
	if counter == entity.CounterSent {
		query = query.Where("sent_count < total_emails")
	}

	res := query.Updates(map[string]interface{}{
		string(counter): gorm.Expr(fmt.Sprintf("%s + 1", counter)),
		"update_time":   uint64(time.Now().Unix()),
	})
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

func ToCampaign(campaign *Campaign) *entity.Campaign {
	return &entity.Campaign{
		ID:             campaign.ID,
		Company:        campaign.Company,
		Topic:          campaign.Topic,
		Status:         entity.CampaignStatus(campaign.GetStatus()),
		TotalEmails:    campaign.TotalEmails,
		SentCount:      campaign.SentCount,
		DeliveredCount: campaign.DeliveredCount,
		OpenedCount:    campaign.OpenedCount,
		ClickedCount:   campaign.ClickedCount,
		BouncedCount:   campaign.BouncedCount,
		BlockedCount:   campaign.BlockedCount,
		CreateTime:     campaign.CreateTime,
		UpdateTime:     campaign.UpdateTime,
	}
}

func ToCampaignModel(campaign *entity.Campaign) *Campaign {
	return &Campaign{
		ID:             campaign.ID,
		Company:        campaign.Company,
		Topic:          campaign.Topic,
		Status:         goutil.Uint32(uint32(campaign.GetStatus())),
		TotalEmails:    goutil.Uint64(campaign.GetTotalEmails()),
		SentCount:      goutil.Uint64(campaign.GetSentCount()),
		DeliveredCount: goutil.Uint64(campaign.GetDeliveredCount()),
		OpenedCount:    goutil.Uint64(campaign.GetOpenedCount()),
		ClickedCount:   goutil.Uint64(campaign.GetClickedCount()),
		BouncedCount:   goutil.Uint64(campaign.GetBouncedCount()),
		BlockedCount:   goutil.Uint64(campaign.GetBlockedCount()),
		CreateTime:     campaign.CreateTime,
		UpdateTime:     campaign.UpdateTime,
	}
}
