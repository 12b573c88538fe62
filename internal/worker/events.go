package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// 后台同步标签。
const (
	SyncTagPredictions     = "sync-predictions"
	PeriodicTagUpdateCache = "update-cache"
)

// MessageSkipWaiting 是页面请求立即激活新版本时发送的消息类型。
const MessageSkipWaiting = "SKIP_WAITING"

// 通知相关常量。
const (
	ActionExplore            = "explore"
	ActionClose              = "close"
	notificationIcon         = "/icon-192.png"
	defaultNotificationRoute = "/notifications"
)

var notificationVibrate = []int{100, 50, 100}

// ErrPeriodicSyncUnsupported 表示当前宿主未启用周期同步。
var ErrPeriodicSyncUnsupported = errors.New("periodic sync is not supported")

// Message 是页面发给 worker 的控制消息。
type Message struct {
	Type string `json:"type"`
}

// NotificationAction 是通知上的操作按钮。
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// NotificationData 附带在通知上的数据。
type NotificationData struct {
	DateOfArrival int64 `json:"dateOfArrival"`
	PrimaryKey    int   `json:"primaryKey"`
}

// Notification 是展示给用户的系统通知。
type Notification struct {
	ID      string               `json:"id"`
	Title   string               `json:"title"`
	Body    string               `json:"body"`
	Icon    string               `json:"icon"`
	Badge   string               `json:"badge"`
	Vibrate []int                `json:"vibrate"`
	Data    NotificationData     `json:"data"`
	Actions []NotificationAction `json:"actions"`
}

// NotificationClick 描述一次通知点击，Action 为空表示点击通知本体。
type NotificationClick struct {
	NotificationID string `json:"notificationId"`
	Action         string `json:"action"`
}

// PushOutcome 描述推送事件的处理结果。
type PushOutcome string

const (
	PushIgnoredEmpty     PushOutcome = "ignored_empty"
	PushIgnoredMalformed PushOutcome = "ignored_malformed"
	PushShown            PushOutcome = "shown"
)

type pushPayload struct {
	Title *string `json:"title"`
	Body  *string `json:"body"`
}

// OnPush 解析推送负载并展示通知；空负载与格式错误的负载被忽略。
func (m *Manager) OnPush(ctx context.Context, data []byte) (PushOutcome, error) {
	log := m.event("push")
	if len(bytes.TrimSpace(data)) == 0 {
		log.Debug("push_ignored_empty")
		return PushIgnoredEmpty, nil
	}

	var payload pushPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		log.WithError(err).Warn("push_ignored_malformed")
		return PushIgnoredMalformed, nil
	}
	if payload.Title == nil || payload.Body == nil {
		log.Warn("push_ignored_malformed")
		return PushIgnoredMalformed, nil
	}

	n := Notification{
		ID:      uuid.NewString(),
		Title:   *payload.Title,
		Body:    *payload.Body,
		Icon:    notificationIcon,
		Badge:   notificationIcon,
		Vibrate: append([]int(nil), notificationVibrate...),
		Data: NotificationData{
			DateOfArrival: m.now().UnixMilli(),
			PrimaryKey:    1,
		},
		Actions: []NotificationAction{
			{Action: ActionExplore, Title: "View Details"},
			{Action: ActionClose, Title: "Close"},
		},
	}
	if err := m.notifier.ShowNotification(ctx, n); err != nil {
		log.WithError(err).Error("notification_show_failed")
		return "", fmt.Errorf("show notification: %w", err)
	}
	log.WithField("notification_id", n.ID).Info("notification_shown")
	return PushShown, nil
}

// OnNotificationClick 关闭被点击的通知；explore 操作额外打开通知页面。
func (m *Manager) OnNotificationClick(ctx context.Context, click NotificationClick) error {
	log := m.event("notificationclick").WithFields(logrus.Fields{
		"notification_id":     click.NotificationID,
		"notification_action": click.Action,
	})
	if err := m.notifier.CloseNotification(ctx, click.NotificationID); err != nil {
		log.WithError(err).Warn("notification_close_failed")
	}
	if click.Action != ActionExplore {
		return nil
	}
	if err := m.notifier.OpenWindow(ctx, m.route); err != nil {
		log.WithError(err).Error("open_window_failed")
		return fmt.Errorf("open window: %w", err)
	}
	log.WithField("route", m.route).Info("window_opened")
	return nil
}

// OnSync 处理后台同步事件，未知标签直接确认。
func (m *Manager) OnSync(ctx context.Context, tag string) error {
	log := m.event("sync").WithField("tag", tag)
	if tag != SyncTagPredictions {
		log.Debug("sync_tag_ignored")
		return nil
	}
	return m.syncPredictions(ctx, log)
}

// syncPredictions 目前没有离线排队的预测请求需要回放。
func (m *Manager) syncPredictions(ctx context.Context, log *logrus.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Info("predictions_synced")
	return nil
}

// OnPeriodicSync 处理周期同步事件；宿主未启用周期同步时返回 ErrPeriodicSyncUnsupported。
func (m *Manager) OnPeriodicSync(ctx context.Context, tag string) error {
	if !m.periodic {
		return ErrPeriodicSyncUnsupported
	}
	log := m.event("periodicsync").WithField("tag", tag)
	if tag != PeriodicTagUpdateCache {
		log.Debug("periodic_sync_tag_ignored")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Info("periodic_cache_update")
	return nil
}

// OnMessage 处理页面消息，仅识别 SKIP_WAITING。
func (m *Manager) OnMessage(ctx context.Context, msg Message) error {
	if msg.Type != MessageSkipWaiting {
		return nil
	}
	m.event("message").Info("skip_waiting_requested")
	return m.life.SkipWaiting(ctx)
}

// PeriodicSyncEnabled 报告当前版本是否监听周期同步。
func (m *Manager) PeriodicSyncEnabled() bool {
	return m.periodic
}

type discardNotifier struct{}

func (discardNotifier) ShowNotification(context.Context, Notification) error { return nil }
func (discardNotifier) CloseNotification(context.Context, string) error      { return nil }
func (discardNotifier) OpenWindow(context.Context, string) error             { return nil }
