package repos

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"gather-events-backend/api/internal/models"
)

// Directory bundles the recipient-resolution queries the fan-out worker
// needs behind one value.
type Directory struct {
	pool          *pgxpool.Pool
	members       *MembersRepo
	subscriptions *SubscriptionsRepo
	settings      *SettingsRepo
	pushTokens    *PushTokensRepo
	users         *UsersRepo
	notifications *NotificationsRepo
}

func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{
		pool:          pool,
		members:       NewMembersRepo(pool),
		subscriptions: NewSubscriptionsRepo(pool),
		settings:      NewSettingsRepo(pool),
		pushTokens:    NewPushTokensRepo(pool),
		users:         NewUsersRepo(pool),
		notifications: NewNotificationsRepo(pool),
	}
}

func (d *Directory) ListJoinedUserIDs(ctx context.Context, eventID int64) ([]int64, error) {
	return d.members.ListJoinedUserIDs(ctx, eventID)
}

func (d *Directory) ListFollowerIDs(ctx context.Context, managerID int64) ([]int64, error) {
	return d.subscriptions.ListFollowerIDs(ctx, managerID)
}

func (d *Directory) FilterEnabled(ctx context.Context, userIDs []int64, settingName string) ([]int64, error) {
	return d.settings.FilterEnabled(ctx, userIDs, settingName)
}

func (d *Directory) TokensByUser(ctx context.Context, userID int64) ([]string, error) {
	return d.pushTokens.ListByUser(ctx, userID)
}

func (d *Directory) TokensByUsers(ctx context.Context, userIDs []int64) ([]string, error) {
	return d.pushTokens.ListByUsers(ctx, userIDs)
}

func (d *Directory) DeleteTokens(ctx context.Context, tokens []string) (int, error) {
	return d.pushTokens.DeleteTokens(ctx, tokens)
}

func (d *Directory) ListEmails(ctx context.Context, userIDs []int64) ([]string, error) {
	return d.users.ListEmails(ctx, userIDs)
}

func (d *Directory) InsertNotifications(ctx context.Context, userIDs []int64, template models.Notification) error {
	return d.notifications.InsertForUsers(ctx, d.pool, userIDs, template)
}
