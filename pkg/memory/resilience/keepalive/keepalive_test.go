package keepalive

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/relaymind/epimem/pkg/memory/resilience/pool"
)

func TestKeepalive(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Keepalive Suite")
}

type flakyFactory struct {
	pingFails atomic.Bool
}

func (f *flakyFactory) Create(ctx context.Context) (interface{}, error) { return "conn", nil }
func (f *flakyFactory) Ping(ctx context.Context, conn interface{}) error {
	if f.pingFails.Load() {
		return errPingFailed
	}
	return nil
}
func (f *flakyFactory) Destroy(conn interface{}) error { return nil }

var errPingFailed = pingError{}

type pingError struct{}

func (pingError) Error() string { return "ping failed" }

var _ = Describe("Keep-alive task", func() {
	It("records a proactive ping and leaves a healthy connection idle", func() {
		factory := &flakyFactory{}
		p := pool.New(pool.Config{MaxConnections: 1, AcquireTimeout: time.Second}, factory)
		c, err := p.Acquire(context.Background())
		Expect(err).NotTo(HaveOccurred())
		c.Release(true)

		task := New(p, factory, time.Hour)
		task.sweep(context.Background())

		snap := task.Stats()
		Expect(snap.ProactivePings).To(Equal(int64(1)))
		Expect(snap.PingFailures).To(Equal(int64(0)))
	})

	It("detects a failing ping and replaces the connection", func() {
		factory := &flakyFactory{}
		p := pool.New(pool.Config{MaxConnections: 1, AcquireTimeout: time.Second}, factory)
		c, err := p.Acquire(context.Background())
		Expect(err).NotTo(HaveOccurred())
		c.Release(true)

		factory.pingFails.Store(true)
		task := New(p, factory, time.Hour)
		task.sweep(context.Background())

		snap := task.Stats()
		Expect(snap.PingFailures).To(Equal(int64(1)))
		Expect(snap.StaleDetected).To(Equal(int64(1)))
		Expect(snap.Refreshed).To(Equal(int64(1)))
	})

	It("stops cleanly", func() {
		factory := &flakyFactory{}
		p := pool.New(pool.Config{MaxConnections: 1, AcquireTimeout: time.Second}, factory)
		task := New(p, factory, 10*time.Millisecond)
		task.Start(context.Background())
		task.Stop()
	})
})
