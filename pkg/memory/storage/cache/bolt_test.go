package cache

import (
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestCache(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Cache Suite")
}

func newTestBolt() *Bolt {
	dir := GinkgoT().TempDir()
	b, err := OpenBolt(filepath.Join(dir, "cache.db"))
	Expect(err).NotTo(HaveOccurred())
	return b
}

var _ = Describe("Bolt cache", func() {
	var store *Bolt

	BeforeEach(func() {
		store = newTestBolt()
	})

	AfterEach(func() {
		store.Close()
	})

	It("round-trips a value within its TTL", func() {
		Expect(store.Set(NamespaceEpisodes, "ep-1", []byte("payload"), time.Minute)).To(Succeed())

		value, ok, err := store.Get(NamespaceEpisodes, "ep-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(value).To(Equal([]byte("payload")))
	})

	It("treats an expired entry as a miss and evicts it", func() {
		Expect(store.Set(NamespaceEpisodes, "ep-1", []byte("payload"), -time.Second)).To(Succeed())

		_, ok, err := store.Get(NamespaceEpisodes, "ep-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
		Expect(store.Stats().Evictions).To(BeNumerically(">=", 1))
	})

	It("rejects a value exceeding the namespace's byte ceiling", func() {
		oversized := make([]byte, MaxValueSize[NamespaceHeuristics]+1)
		err := store.Set(NamespaceHeuristics, "h-1", oversized, time.Minute)
		Expect(err).To(HaveOccurred())
	})

	It("extends TTL on Touch up to the configured cap", func() {
		Expect(store.Set(NamespaceEpisodes, "ep-1", []byte("v"), time.Second)).To(Succeed())
		Expect(store.Touch(NamespaceEpisodes, "ep-1", time.Hour, 2*time.Hour)).To(Succeed())

		time.Sleep(1100 * time.Millisecond)
		_, ok, err := store.Get(NamespaceEpisodes, "ep-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("deletes all keys sharing a prefix", func() {
		Expect(store.Set(NamespaceQueryCache, "episodes:filter:a", []byte("x"), time.Minute)).To(Succeed())
		Expect(store.Set(NamespaceQueryCache, "episodes:filter:b", []byte("y"), time.Minute)).To(Succeed())
		Expect(store.Set(NamespaceQueryCache, "patterns:filter:a", []byte("z"), time.Minute)).To(Succeed())

		Expect(store.DeletePrefix(NamespaceQueryCache, "episodes:")).To(Succeed())

		_, ok, _ := store.Get(NamespaceQueryCache, "episodes:filter:a")
		Expect(ok).To(BeFalse())
		_, ok, _ = store.Get(NamespaceQueryCache, "patterns:filter:a")
		Expect(ok).To(BeTrue())
	})

	It("evicts an entry whose schema-version byte no longer matches", func() {
		Expect(store.Set(NamespaceEpisodes, "ep-1", []byte("v"), time.Minute)).To(Succeed())

		raw := encodeEnvelope([]byte("v"), time.Minute)
		raw[0] = SchemaVersion + 1 // simulate a stale schema version from a previous build
		err := store.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket([]byte(NamespaceEpisodes)).Put([]byte("ep-1"), raw)
		})
		Expect(err).NotTo(HaveOccurred())

		_, ok, err := store.Get(NamespaceEpisodes, "ep-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})
})
