package memory_test

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Venkie07/kyla-api/pkg/llm"
	"github.com/Venkie07/kyla-api/pkg/memory"
)

var _ = Describe("Store", func() {
	var store *memory.Store

	BeforeEach(func() {
		store = memory.NewStore("seed", 10)
	})

	It("resolves the empty id to the default session", func() {
		Expect(store.Get("").ID).To(Equal(memory.DefaultSessionID))
		Expect(store.Get("")).To(BeIdenticalTo(store.Get(memory.DefaultSessionID)))
	})

	It("creates sessions lazily with the configured seed and window", func() {
		sess := store.Get("abc")

		Expect(sess.Buffer.Snapshot()).To(Equal([]llm.Message{llm.SystemMessage("seed")}))
		Expect(sess.Buffer.MaxMessages()).To(Equal(10))
		Expect(store.IDs()).To(Equal([]string{"abc"}))
	})

	It("keeps sessions isolated", func() {
		Expect(store.Get("a").Buffer.Append(llm.UserMessage("for a"))).To(Succeed())

		Expect(store.Get("a").Buffer.Len()).To(Equal(2))
		Expect(store.Get("b").Buffer.Len()).To(Equal(1))
	})

	It("resets a single session", func() {
		Expect(store.Get("a").Buffer.Append(llm.UserMessage("x"))).To(Succeed())
		Expect(store.Get("b").Buffer.Append(llm.UserMessage("y"))).To(Succeed())

		Expect(store.Reset("a")).To(BeTrue())

		Expect(store.Get("a").Buffer.Len()).To(Equal(1))
		Expect(store.Get("b").Buffer.Len()).To(Equal(2))
	})

	It("does not create sessions on reset or lookup", func() {
		Expect(store.Reset("ghost")).To(BeFalse())

		_, ok := store.Lookup("ghost")
		Expect(ok).To(BeFalse())
		Expect(store.IDs()).To(BeEmpty())
	})

	It("looks up existing sessions", func() {
		created := store.Get("")

		found, ok := store.Lookup(memory.DefaultSessionID)
		Expect(ok).To(BeTrue())
		Expect(found).To(BeIdenticalTo(created))
	})

	It("reports the seed conversation", func() {
		Expect(store.SeedMessages()).To(Equal([]llm.Message{llm.SystemMessage("seed")}))
	})

	Describe("Session cap", func() {
		BeforeEach(func() {
			store = memory.NewStore("seed", 10, memory.WithMaxSessions(3))
		})

		It("defaults when unset", func() {
			Expect(memory.NewStore("seed", 10).MaxSessions()).To(Equal(memory.DefaultMaxSessions))
			Expect(memory.NewStore("seed", 10, memory.WithMaxSessions(0)).MaxSessions()).To(Equal(memory.DefaultMaxSessions))
		})

		It("evicts the least recently used session", func() {
			store.Get("a")
			store.Get("b")
			store.Get("c")
			store.Get("a")

			store.Get("d")

			Expect(store.IDs()).To(Equal([]string{"a", "c", "d"}))
		})

		It("never holds more than the cap", func() {
			for i := range 50 {
				store.Get(fmt.Sprintf("s%d", i))
			}
			Expect(store.IDs()).To(HaveLen(3))
		})

		It("keeps the default session", func() {
			store.Get("")
			for i := range 10 {
				store.Get(fmt.Sprintf("s%d", i))
			}
			Expect(store.IDs()).To(ContainElement(memory.DefaultSessionID))
			Expect(store.IDs()).To(HaveLen(3))
		})

		It("prefers idle sessions", func() {
			busy := store.Get("a")
			Expect(busy.Lock(context.Background())).To(Succeed())
			defer busy.Unlock()

			store.Get("b")
			store.Get("c")
			store.Get("d")

			Expect(store.IDs()).To(Equal([]string{"a", "c", "d"}))
		})
	})

	It("deletes sessions", func() {
		store.Get("a")

		Expect(store.Delete("a")).To(BeTrue())
		Expect(store.Delete("a")).To(BeFalse())
		Expect(store.IDs()).To(BeEmpty())
	})

	It("lists ids in sorted order", func() {
		store.Get("b")
		store.Get("a")
		store.Get("c")

		Expect(store.IDs()).To(Equal([]string{"a", "b", "c"}))
	})

	It("allocates uuid session ids", func() {
		id := memory.NewSessionID()
		_, err := uuid.Parse(id)
		Expect(err).NotTo(HaveOccurred())
		Expect(memory.NewSessionID()).NotTo(Equal(id))
	})

	Describe("Session locking", func() {
		It("serializes holders", func() {
			sess := store.Get("a")
			Expect(sess.Lock(context.Background())).To(Succeed())

			acquired := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				Expect(sess.Lock(context.Background())).To(Succeed())
				close(acquired)
				sess.Unlock()
			}()

			Consistently(acquired, 50*time.Millisecond).ShouldNot(BeClosed())
			sess.Unlock()
			Eventually(acquired).Should(BeClosed())
		})

		It("gives up when the context ends", func() {
			sess := store.Get("a")
			Expect(sess.Lock(context.Background())).To(Succeed())
			defer sess.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			Expect(sess.Lock(ctx)).To(MatchError(context.DeadlineExceeded))
		})
	})
})
