package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// path is "direct" or "checkout"
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mealorder_orders_created_total",
		Help: "Total number of order lines persisted, by placement path.",
	},
		[]string{"path"},
	)

	CheckoutSessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mealorder_checkout_sessions_total",
		Help: "Total number of payment checkout sessions opened for budget shortfalls.",
	})

	CapacityRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mealorder_capacity_rejections_total",
		Help: "Total number of carts rejected because a restaurant was at capacity.",
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mealorder_webhook_events_total",
		Help: "Payment provider webhook events by type and outcome.",
	},
		[]string{"type", "outcome"},
	)

	RefundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mealorder_refunds_total",
		Help: "Total number of refunds issued on order cancellation.",
	})

	SchedulesDeactivatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mealorder_schedules_deactivated_total",
		Help: "Total number of schedule entries turned inactive after reaching capacity.",
	})

	OutboxTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mealorder_outbox_tasks_total",
		Help: "Outbox tasks processed, by topic and result.",
	},
		[]string{"topic", "result"},
	)

	OperationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mealorder_operation_errors_total",
		Help: "Total number of errors encountered during specific operations.",
	},
		[]string{"operation"},
	)

	MenuCacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mealorder_menu_cache_requests_total",
		Help: "Live menu cache lookups by result.",
	},
		[]string{"result"},
	)
)
