package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"voice-planner/internal/model"
)

// DefaultTimezone applies to users without a stored timezone unless the
// repository is configured with another one.
const DefaultTimezone = "UTC"

// UserRepository handles users and their device tokens.
type UserRepository struct {
	db        *gorm.DB
	defaultTZ string
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db, defaultTZ: DefaultTimezone}
}

// WithDefaultTimezone sets the timezone reported for users without one.
// An empty tz keeps the current default.
func (r *UserRepository) WithDefaultTimezone(tz string) *UserRepository {
	if tz != "" {
		r.defaultTZ = tz
	}
	return r
}

// EnsureUser finds or creates the user row.
func (r *UserRepository) EnsureUser(ctx context.Context, userID string) (*model.User, error) {
	user := model.User{ID: userID}
	if err := r.db.WithContext(ctx).Where(model.User{ID: userID}).FirstOrCreate(&user).Error; err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&model.User{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return ids, nil
}

// Timezone returns the user's IANA timezone, or the repository default when unset.
func (r *UserRepository) Timezone(ctx context.Context, userID string) (string, error) {
	var user model.User
	err := r.db.WithContext(ctx).Select("timezone").Where("id = ?", userID).First(&user).Error
	switch {
	case err == nil:
		if user.Timezone == "" {
			return r.defaultTZ, nil
		}
		return user.Timezone, nil
	case notFound(err) == ErrNotFound:
		return r.defaultTZ, nil
	default:
		return "", fmt.Errorf("get timezone: %w", err)
	}
}

func (r *UserRepository) SetTimezone(ctx context.Context, userID, tz string) error {
	if _, err := r.EnsureUser(ctx, userID); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Model(&model.User{ID: userID}).Update("timezone", tz).Error; err != nil {
		return fmt.Errorf("set timezone: %w", err)
	}
	return nil
}

// Preferences returns the user's notification preferences, or the defaults
// when none are stored.
func (r *UserRepository) Preferences(ctx context.Context, userID string) (model.NotificationPreferences, error) {
	var user model.User
	err := r.db.WithContext(ctx).Select("id", "preferences").Where("id = ?", userID).First(&user).Error
	switch {
	case err == nil:
		if user.Preferences == nil {
			return model.DefaultNotificationPreferences(), nil
		}
		return *user.Preferences, nil
	case notFound(err) == ErrNotFound:
		return model.DefaultNotificationPreferences(), nil
	default:
		return model.NotificationPreferences{}, fmt.Errorf("get preferences: %w", err)
	}
}

func (r *UserRepository) SetPreferences(ctx context.Context, userID string, prefs model.NotificationPreferences) error {
	if _, err := r.EnsureUser(ctx, userID); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Model(&model.User{ID: userID}).Select("preferences").
		Updates(&model.User{Preferences: &prefs}).Error; err != nil {
		return fmt.Errorf("set preferences: %w", err)
	}
	return nil
}

func (r *UserRepository) Tokens(ctx context.Context, userID string) ([]string, error) {
	var tokens []string
	if err := r.db.WithContext(ctx).Model(&model.DeviceToken{}).
		Where("user_id = ?", userID).Order("id").Pluck("token", &tokens).Error; err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

// AddToken registers a device token; registering it twice is a no-op.
func (r *UserRepository) AddToken(ctx context.Context, userID, token, platform string) error {
	if _, err := r.EnsureUser(ctx, userID); err != nil {
		return err
	}
	dt := model.DeviceToken{UserID: userID, Token: token, Platform: platform}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&dt).Error; err != nil {
		return fmt.Errorf("add token: %w", err)
	}
	return nil
}

func (r *UserRepository) RemoveTokens(ctx context.Context, userID string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Where("user_id = ? AND token IN ?", userID, tokens).
		Delete(&model.DeviceToken{}).Error; err != nil {
		return fmt.Errorf("remove tokens: %w", err)
	}
	return nil
}
