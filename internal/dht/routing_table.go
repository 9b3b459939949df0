package dht

import (
	"sync"

	"github.com/prxssh/rabbitdht/pkg/utils/heap"
)

const BucketSize = IDSizeBits

type RoutingTable struct {
	localID ID
	mut     sync.RWMutex
	buckets [BucketSize]*Bucket
}

func NewRoutingTable(localID ID) *RoutingTable {
	rt := &RoutingTable{localID: localID}
	for i := 0; i < BucketSize; i++ {
		rt.buckets[i] = NewBucket()
	}

	return rt
}

func (rt *RoutingTable) ID() ID {
	return rt.localID
}

func (rt *RoutingTable) Insert(contact *Contact) bool {
	if contact.ID() == rt.localID {
		return false
	}

	bucketIdx := BucketIndex(rt.localID, contact.ID())
	bucket := rt.buckets[bucketIdx]

	if bucket.Insert(contact) {
		return true
	}
	return rt.handleFullBucket(bucket, contact)
}

func (rt *RoutingTable) handleFullBucket(bucket *Bucket, newContact *Contact) bool {
	lru := bucket.LRU()
	if lru == nil {
		return false
	}

	if lru.IsBad() {
		bucket.Remove(lru.ID())
		bucket.Insert(newContact)
		return true
	}

	// If LRU is questionable, it should be pinged by maintenance routine. For now, reject the
	// new contact.
	return false
}

func (rt *RoutingTable) Remove(id ID) bool {
	bucketIdx := BucketIndex(rt.localID, id)
	return rt.buckets[bucketIdx].Remove(id)
}

func (rt *RoutingTable) Get(id ID) *Contact {
	bucketIdx := BucketIndex(rt.localID, id)
	return rt.buckets[bucketIdx].Get(id)
}

// FindClosestK returns up to k contacts nearest target in XOR distance,
// gathering candidates from target's bucket and its neighborhood, then
// selecting the closest k by dequeuing from a min-heap of every gathered
// candidate rather than a full sort.
func (rt *RoutingTable) FindClosestK(target ID, k int) []*Contact {
	rt.mut.Lock()
	defer rt.mut.Unlock()

	targetBucket := BucketIndex(rt.localID, target)

	var contacts []*Contact
	contacts = append(contacts, rt.buckets[targetBucket].All()...)

	for i := 1; len(contacts) < k && (targetBucket-i >= 0 || targetBucket+i < BucketSize); i++ {
		if targetBucket-i >= 0 {
			contacts = append(contacts, rt.buckets[targetBucket-i].All()...)
		}

		if len(contacts) >= k {
			break
		}

		if targetBucket+i < BucketSize {
			contacts = append(contacts, rt.buckets[targetBucket+i].All()...)
		}
	}

	pq := heap.NewPriorityQueue(func(a, b *Contact) bool {
		return Compare(target, a.ID(), b.ID()) < 0
	})
	for _, c := range contacts {
		pq.Enqueue(c)
	}

	if k > len(contacts) {
		k = len(contacts)
	}

	closest := make([]*Contact, 0, k)
	for i := 0; i < k; i++ {
		c, ok := pq.Dequeue()
		if !ok {
			break
		}
		closest = append(closest, c)
	}

	return closest
}

func (rt *RoutingTable) Size() int {
	rt.mut.Lock()
	defer rt.mut.Unlock()

	count := 0
	for _, bucket := range rt.buckets {
		count += bucket.Len()
	}

	return count
}

func (rt *RoutingTable) GetBucketsNeedingRefresh() []int {
	rt.mut.RLock()
	defer rt.mut.RUnlock()

	var indices []int
	for i, bucket := range rt.buckets {
		if bucket.Len() > 0 && bucket.NeedsRefresh() {
			indices = append(indices, i)
		}
	}

	return indices
}

func (rt *RoutingTable) GetQuestionableContacts() []*Contact {
	rt.mut.RLock()
	defer rt.mut.RUnlock()

	var questionable []*Contact
	for _, bucket := range rt.buckets {
		for _, contact := range bucket.All() {
			if contact.IsQuestionable() {
				questionable = append(questionable, contact)
			}
		}
	}

	return questionable
}

type RoutingTableStats struct {
	TotalContacts        int
	GoodContacts         int
	QuestionableContacts int
	BadContacts          int
	FilledBuckets        int
	EmptyBuckets         int
}

func (rt *RoutingTable) GetStats() RoutingTableStats {
	rt.mut.RLock()
	defer rt.mut.RUnlock()

	stats := RoutingTableStats{}

	for _, bucket := range rt.buckets {
		contacts := bucket.All()
		if len(contacts) == 0 {
			stats.EmptyBuckets++
			continue
		}

		stats.FilledBuckets++
		stats.TotalContacts += len(contacts)

		for _, c := range contacts {
			if c.IsGood() {
				stats.GoodContacts++
			} else if c.IsQuestionable() {
				stats.QuestionableContacts++
			} else if c.IsBad() {
				stats.BadContacts++
			}
		}
	}

	return stats
}
