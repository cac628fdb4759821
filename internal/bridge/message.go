// Package bridge implements the typed message channel between page
// clients and the worker. One channel multiplexes lifecycle control,
// version queries, cache maintenance, badge and notification signaling,
// and bundle-ready events. Unknown message types are ignored, never an
// error, so newer clients can talk to older workers.
package bridge

import "time"

// Type discriminates messages on the shared channel.
type Type string

// Inbound message types (page → worker).
const (
	TypeSkipWaiting           Type = "SKIP_WAITING"
	TypeGetVersion            Type = "GET_VERSION"
	TypeCheckUpdate           Type = "CHECK_UPDATE"
	TypeClearAllCaches        Type = "CLEAR_ALL_CACHES"
	TypeSetBadgeCount         Type = "SET_BADGE_COUNT"
	TypeClearBadge            Type = "CLEAR_BADGE"
	TypeShowNotification      Type = "SHOW_NOTIFICATION"
	TypeCloseNotifications    Type = "CLOSE_NOTIFICATIONS"
	TypeCloseAllNotifications Type = "CLOSE_ALL_NOTIFICATIONS"
	TypeBundleUpdated         Type = "BUNDLE_UPDATED"
	TypeCheckBundle           Type = "CHECK_BUNDLE"
	// Pages forward the browser visibilitychange and online events so
	// the update checker can re-check at the moments users return.
	TypePageVisible   Type = "PAGE_VISIBLE"
	TypeNetworkOnline Type = "NETWORK_ONLINE"
)

// Outbound broadcast types (worker → pages).
const (
	TypeSWUpdated          Type = "SW_UPDATED"
	TypeVersionInfo        Type = "VERSION_INFO"
	TypeUpdateCheckResult  Type = "UPDATE_CHECK_RESULT"
	TypeCachesCleared      Type = "CACHES_CLEARED"
	TypeBundleStatus       Type = "BUNDLE_STATUS"
	TypeBundleReady        Type = "BUNDLE_READY"
	TypeSyncRequested      Type = "SYNC_REQUESTED"
	TypeNotificationClick  Type = "NOTIFICATION_CLICKED"
	TypeNotificationAction Type = "NOTIFICATION_ACTION"
)

// Message is the tagged union carried on the channel. Only the fields
// relevant to a given Type are populated; everything else stays at its
// zero value and is omitted on the wire.
type Message struct {
	Type Type `json:"type"`

	// Sender identifies the originating client for inbound messages.
	// Populated by the transport, not by clients.
	Sender string `json:"sender,omitempty"`

	Version   string `json:"version,omitempty"`
	BuildTime string `json:"buildTime,omitempty"`
	Hash      string `json:"hash,omitempty"`

	Count     int    `json:"count,omitempty"`
	Title     string `json:"title,omitempty"`
	Body      string `json:"body,omitempty"`
	Tag       string `json:"tag,omitempty"`
	HasBundle bool   `json:"hasBundle,omitempty"`
	Action    string `json:"action,omitempty"`

	// Data carries structured payloads such as the update check result.
	Data map[string]any `json:"data,omitempty"`

	Timestamp time.Time `json:"timestamp,omitzero"`
}
