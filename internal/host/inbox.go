package host

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/property-predictor/offline-cache/internal/logging"
	"github.com/property-predictor/offline-cache/internal/worker"
)

const defaultInboxLimit = 100

// InboxEntry 是一条已展示的通知。
type InboxEntry struct {
	Notification worker.Notification `json:"notification"`
	ShownAt      time.Time           `json:"shown_at"`
	ClosedAt     *time.Time          `json:"closed_at,omitempty"`
}

// OpenedWindow 记录 worker 请求打开的页面。
type OpenedWindow struct {
	Route    string    `json:"route"`
	OpenedAt time.Time `json:"opened_at"`
}

// Inbox 实现 worker.Notifier，保存最近的通知与打开页面记录，供页面轮询。
type Inbox struct {
	logger *logrus.Logger
	limit  int
	now    func() time.Time

	mu            sync.Mutex
	notifications []InboxEntry
	windows       []OpenedWindow
}

// NewInbox 创建通知收件箱，limit <= 0 时使用默认容量。
func NewInbox(logger *logrus.Logger, limit int) *Inbox {
	if logger == nil {
		logger = logging.Discard()
	}
	if limit <= 0 {
		limit = defaultInboxLimit
	}
	return &Inbox{logger: logger, limit: limit, now: time.Now}
}

func (i *Inbox) ShowNotification(_ context.Context, n worker.Notification) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.notifications = append(i.notifications, InboxEntry{Notification: n, ShownAt: i.now()})
	if over := len(i.notifications) - i.limit; over > 0 {
		i.notifications = append([]InboxEntry(nil), i.notifications[over:]...)
	}
	i.logger.WithFields(logrus.Fields{
		"action":          "notification_show",
		"notification_id": n.ID,
		"title":           n.Title,
	}).Info("notification shown")
	return nil
}

// CloseNotification 标记通知已关闭，未知 id 直接忽略。
func (i *Inbox) CloseNotification(_ context.Context, id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	for idx := range i.notifications {
		entry := &i.notifications[idx]
		if entry.Notification.ID != id || entry.ClosedAt != nil {
			continue
		}
		closedAt := i.now()
		entry.ClosedAt = &closedAt
		i.logger.WithFields(logrus.Fields{
			"action":          "notification_close",
			"notification_id": id,
		}).Info("notification closed")
	}
	return nil
}

func (i *Inbox) OpenWindow(_ context.Context, route string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.windows = append(i.windows, OpenedWindow{Route: route, OpenedAt: i.now()})
	if over := len(i.windows) - i.limit; over > 0 {
		i.windows = append([]OpenedWindow(nil), i.windows[over:]...)
	}
	i.logger.WithFields(logrus.Fields{
		"action": "open_window",
		"route":  route,
	}).Info("window opened")
	return nil
}

// Notifications 返回通知记录副本，按展示时间排列。
func (i *Inbox) Notifications() []InboxEntry {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]InboxEntry(nil), i.notifications...)
}

// Windows 返回打开页面记录副本。
func (i *Inbox) Windows() []OpenedWindow {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]OpenedWindow(nil), i.windows...)
}
