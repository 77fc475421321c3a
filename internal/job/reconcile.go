package job

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Reconciler is satisfied by *service.SettlementService.
type Reconciler interface {
	ReconcileStale(ctx context.Context) (int, error)
}

// ReconcileJob polls the gateway for transactions that stayed pending too long,
// covering callbacks that never arrived.
type ReconcileJob struct {
	reconciler Reconciler
	log        *logrus.Logger
	stopCh     chan struct{}
	interval   time.Duration
}

func NewReconcileJob(reconciler Reconciler, interval time.Duration, log *logrus.Logger) *ReconcileJob {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ReconcileJob{
		reconciler: reconciler,
		log:        log,
		stopCh:     make(chan struct{}),
		interval:   interval,
	}
}

func (j *ReconcileJob) Start(ctx context.Context) {
	j.log.WithField("interval", j.interval.String()).Info("[ReconcileJob] started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("[ReconcileJob] context cancelled, exiting")
			return
		case <-j.stopCh:
			j.log.Info("[ReconcileJob] stopped")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *ReconcileJob) Stop() {
	close(j.stopCh)
}

func (j *ReconcileJob) runOnce(ctx context.Context) {
	settled, err := j.reconciler.ReconcileStale(ctx)
	if err != nil {
		j.log.WithError(err).Error("[ReconcileJob] sweep failed")
	}
	if settled > 0 {
		j.log.WithField("settled", settled).Info("[ReconcileJob] settled stale transactions")
	}
}
