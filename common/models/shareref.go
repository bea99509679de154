package models

import (
	"fmt"
	"github.com/go-redis/redis/v7"
	"log"
	"sync"
)

/**
keeps count of how many owners refer to each shared directory
*/
type ShareCounter interface {
	Increase(name string) (int64, error)
	Decrease(name string) (int64, error)
	Count(name string) (int64, error)
}

/**
in-process ShareCounter
*/
type MemoryShareCounter struct {
	mutex  sync.Mutex
	counts map[string]int64
}

func NewMemoryShareCounter() *MemoryShareCounter {
	return &MemoryShareCounter{counts: make(map[string]int64)}
}

func (m *MemoryShareCounter) Increase(name string) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.counts[name] += 1
	return m.counts[name], nil
}

func (m *MemoryShareCounter) Decrease(name string) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	current := m.counts[name] - 1
	if current <= 0 {
		delete(m.counts, name)
		return 0, nil
	}
	m.counts[name] = current
	return current, nil
}

func (m *MemoryShareCounter) Count(name string) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.counts[name], nil
}

/**
ShareCounter backed by redis, so that several submitting processes on the same host agree on the counts
*/
type RedisShareCounter struct {
	client redis.Cmdable
}

func NewRedisShareCounter(client redis.Cmdable) *RedisShareCounter {
	return &RedisShareCounter{client: client}
}

const SHAREREF_INDEX = "sandboxprep:sharerefs"

func shareRefKey(name string) string {
	return fmt.Sprintf("sandboxprep:shareref:%s", name)
}

func (r *RedisShareCounter) Increase(name string) (int64, error) {
	count, incrErr := r.client.Incr(shareRefKey(name)).Result()
	if incrErr != nil {
		log.Printf("Could not increase share count for %s: %s", name, incrErr)
		return 0, incrErr
	}
	_, idxErr := r.client.SAdd(SHAREREF_INDEX, name).Result()
	if idxErr != nil {
		log.Printf("Could not index share count for %s: %s", name, idxErr)
		return count, idxErr
	}
	return count, nil
}

func (r *RedisShareCounter) Decrease(name string) (int64, error) {
	count, decrErr := r.client.Decr(shareRefKey(name)).Result()
	if decrErr != nil {
		log.Printf("Could not decrease share count for %s: %s", name, decrErr)
		return 0, decrErr
	}
	if count <= 0 {
		pipe := r.client.Pipeline()
		pipe.Del(shareRefKey(name))
		pipe.SRem(SHAREREF_INDEX, name)
		_, execErr := pipe.Exec()
		if execErr != nil {
			log.Printf("Could not clear share count for %s: %s", name, execErr)
			return 0, execErr
		}
		return 0, nil
	}
	return count, nil
}

func (r *RedisShareCounter) Count(name string) (int64, error) {
	count, getErr := r.client.Get(shareRefKey(name)).Int64()
	if getErr == redis.Nil {
		return 0, nil
	}
	if getErr != nil {
		log.Printf("Could not get share count for %s: %s", name, getErr)
		return 0, getErr
	}
	return count, nil
}

/**
names of every shared directory that currently has a non-zero count
*/
func (r *RedisShareCounter) KnownNames() ([]string, error) {
	return r.client.SMembers(SHAREREF_INDEX).Result()
}

func ownerKey(jobID string) string {
	return fmt.Sprintf("sandboxprep:jobref:%s", jobID)
}

/**
remember which shared directory a submitted master job holds a reference to, so that it can be released
once the job has finished
*/
func (r *RedisShareCounter) Assign(jobID string, name string) error {
	_, setErr := r.client.Set(ownerKey(jobID), name, -1).Result()
	if setErr != nil {
		log.Printf("Could not record shared directory for job %s: %s", jobID, setErr)
	}
	return setErr
}

/**
the shared directory assigned to the job, or an empty string if there isn't one
*/
func (r *RedisShareCounter) AssignedTo(jobID string) (string, error) {
	name, getErr := r.client.Get(ownerKey(jobID)).Result()
	if getErr == redis.Nil {
		return "", nil
	}
	return name, getErr
}

func (r *RedisShareCounter) Unassign(jobID string) error {
	_, delErr := r.client.Del(ownerKey(jobID)).Result()
	return delErr
}
