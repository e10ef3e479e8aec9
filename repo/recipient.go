package repo

import (
	"context"
	"errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"outreach/entity"
	"outreach/pkg/goutil"
	"time"
)

var (
	ErrRecipientNotFound = errors.New("recipient not found")
)

type Recipient struct {
	ID              *uint64
	Email           *string `gorm:"type:varchar(320);uniqueIndex"`
	FirstName       *string `gorm:"type:varchar(255)"`
	LastName        *string `gorm:"type:varchar(255)"`
	PublicationName *string `gorm:"type:varchar(255)"`
	Unsubscribed    *bool   `gorm:"default:false"`
	UnsubscribeTime *uint64
	CreateTime      *uint64
	UpdateTime      *uint64
}

func (m *Recipient) TableName() string {
	return "recipient_tab"
}

func (m *Recipient) GetID() uint64 {
	if m != nil && m.ID != nil {
		return *m.ID
	}
	return 0
}

type RecipientRepo interface {
	// Upsert creates the recipient or refreshes its profile fields, keyed by
	// email. The opt-out flag of an existing recipient is left untouched.
	Upsert(ctx context.Context, recipient *entity.Recipient) (*entity.Recipient, error)
	GetByID(ctx context.Context, recipientID uint64) (*entity.Recipient, error)
	SetUnsubscribed(ctx context.Context, recipientID uint64, at uint64) error
}

type recipientRepo struct {
	baseRepo
}

func NewRecipientRepo(_ context.Context, orm *gorm.DB) RecipientRepo {
	return &recipientRepo{baseRepo{orm: orm}}
}

func (r *recipientRepo) Upsert(ctx context.Context, recipient *entity.Recipient) (*entity.Recipient, error) {
	recipientModel := ToRecipientModel(recipient)

	db := r.getDb(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"first_name", "last_name", "publication_name", "update_time"}),
	}).Create(recipientModel).Error; err != nil {
		return nil, err
	}

	// the id is not reliably returned on conflict
	stored := new(Recipient)
	if err := db.Where("email = ?", recipient.GetEmail()).First(stored).Error; err != nil {
		return nil, err
	}

	return ToRecipient(stored), nil
}

func (r *recipientRepo) GetByID(ctx context.Context, recipientID uint64) (*entity.Recipient, error) {
	recipient := new(Recipient)
	if err := r.getDb(ctx).Where("id = ?", recipientID).First(recipient).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, err
	}

	return ToRecipient(recipient), nil
}

func (r *recipientRepo) SetUnsubscribed(ctx context.Context, recipientID uint64, at uint64) error {
	res := r.getDb(ctx).
		Model(new(Recipient)).
		Where("id = ?", recipientID).
		Updates(map[string]interface{}{
			"unsubscribed":     true,
			"unsubscribe_time": gorm.Expr("COALESCE(unsubscribe_time, ?)", at),
			"update_time":      uint64(time.Now().Unix()),
		})
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected == 0 {
		return ErrRecipientNotFound
	}

	return nil
}

func ToRecipient(recipient *Recipient) *entity.Recipient {
	return &entity.Recipient{
		ID:              recipient.ID,
		Email:           recipient.Email,
		FirstName:       recipient.FirstName,
		LastName:        recipient.LastName,
		PublicationName: recipient.PublicationName,
		Unsubscribed:    recipient.Unsubscribed,
		UnsubscribeTime: recipient.UnsubscribeTime,
		CreateTime:      recipient.CreateTime,
		UpdateTime:      recipient.UpdateTime,
	}
}

func ToRecipientModel(recipient *entity.Recipient) *Recipient {
	return &Recipient{
		ID:              recipient.ID,
		Email:           recipient.Email,
		FirstName:       recipient.FirstName,
		LastName:        recipient.LastName,
		PublicationName: recipient.PublicationName,
		Unsubscribed:    goutil.Bool(recipient.GetUnsubscribed()),
		UnsubscribeTime: recipient.UnsubscribeTime,
		CreateTime:      recipient.CreateTime,
		UpdateTime:      recipient.UpdateTime,
	}
}
