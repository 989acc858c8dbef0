package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Intake metrics
	RequestsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aidlink_requests_received_total",
			Help: "Total help requests accepted by intake",
		},
		[]string{"category", "source"},
	)

	RequestsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aidlink_requests_rejected_total",
			Help: "Total help requests rejected at validation",
		},
		[]string{"reason"},
	)

	// Dispatch metrics
	AssignmentsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aidlink_assignments_created_total",
			Help: "Total assignments created",
		},
	)

	MatchRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aidlink_match_retries_total",
			Help: "Candidate claims lost to a concurrent dispatch",
		},
	)

	RequestsPendingReview = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aidlink_requests_pending_review",
			Help: "Requests currently waiting on manual review",
		},
	)

	// Session metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aidlink_sessions_active",
			Help: "Chat sessions currently open",
		},
	)

	SessionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aidlink_sessions_expired_total",
			Help: "Chat sessions torn down by TTL expiry",
		},
	)

	ChatMessagesRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aidlink_chat_messages_relayed_total",
			Help: "Chat messages relayed between session parties",
		},
	)

	// Notification metrics
	NotificationDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aidlink_notification_deliveries_total",
			Help: "Notifications delivered to connected recipients",
		},
		[]string{"kind"},
	)

	NotificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aidlink_notifications_dropped_total",
			Help: "Notifications dropped because the recipient was not connected",
		},
	)
)
