package storagefabric

import (
	"fmt"
	"github.com/go-redis/redis/v7"
	"log"
	"sort"
	"strings"
)

const (
	SE_ACTIVE = "active"
	SE_BANNED = "banned"
)

/**
catalog of storage element status and file replicas, held in redis so that every process on the
host sees the same view of the fabric
*/
type RedisCatalog struct {
	client redis.Cmdable
}

func NewRedisCatalog(client redis.Cmdable) *RedisCatalog {
	return &RedisCatalog{client: client}
}

func statusKey(se string) string {
	return fmt.Sprintf("sandboxprep:sestatus:%s", se)
}

func replicaKey(lfn string) string {
	return fmt.Sprintf("sandboxprep:replicas:%s", lfn)
}

func (c *RedisCatalog) SetWritable(se string, writable bool) error {
	status := SE_ACTIVE
	if !writable {
		status = SE_BANNED
	}
	_, setErr := c.client.Set(statusKey(se), status, -1).Result()
	if setErr != nil {
		log.Printf("ERROR: Could not set status of %s: %s", se, setErr)
	}
	return setErr
}

/**
storage elements the catalog has never heard of are not writable
*/
func (c *RedisCatalog) CheckWritable(se string) (bool, error) {
	status, getErr := c.client.Get(statusKey(se)).Result()
	if getErr == redis.Nil {
		return false, nil
	}
	if getErr != nil {
		log.Printf("ERROR: Could not get status of %s: %s", se, getErr)
		return false, getErr
	}
	return status == SE_ACTIVE, nil
}

func (c *RedisCatalog) ListReplicas(lfn string) ([]string, error) {
	members, getErr := c.client.SMembers(replicaKey(lfn)).Result()
	if getErr != nil {
		log.Printf("ERROR: Could not list replicas of %s: %s", lfn, getErr)
		return nil, getErr
	}
	sort.Strings(members)
	return members, nil
}

//every logical name that has at least one replica
const LFN_INDEX = "sandboxprep:lfns"

func (c *RedisCatalog) AddReplica(lfn string, se string) error {
	pipe := c.client.Pipeline()
	pipe.SAdd(replicaKey(lfn), se)
	pipe.SAdd(LFN_INDEX, lfn)
	_, execErr := pipe.Exec()
	if execErr != nil {
		log.Printf("ERROR: Could not register replica of %s at %s: %s", lfn, se, execErr)
	}
	return execErr
}

func (c *RedisCatalog) RemoveReplica(lfn string, se string) error {
	_, remErr := c.client.SRem(replicaKey(lfn), se).Result()
	if remErr != nil {
		return remErr
	}
	remaining, countErr := c.client.SCard(replicaKey(lfn)).Result()
	if countErr != nil {
		return countErr
	}
	if remaining == 0 {
		_, idxErr := c.client.SRem(LFN_INDEX, lfn).Result()
		return idxErr
	}
	return nil
}

/**
sorted list of the logical names with replicas that start with the given prefix
*/
func (c *RedisCatalog) ListLFNs(prefix string) ([]string, error) {
	members, getErr := c.client.SMembers(LFN_INDEX).Result()
	if getErr != nil {
		log.Printf("ERROR: Could not list known files: %s", getErr)
		return nil, getErr
	}
	rtn := make([]string, 0)
	for _, lfn := range members {
		if strings.HasPrefix(lfn, prefix) {
			rtn = append(rtn, lfn)
		}
	}
	sort.Strings(rtn)
	return rtn, nil
}

func dbTagsKey(which string, lfn string) string {
	return fmt.Sprintf("sandboxprep:dbtags:%s:%s", which, strings.TrimPrefix(lfn, "LFN:"))
}

/**
record the detector and conditions database tags a dataset was produced with
*/
func (c *RedisCatalog) SetDBTags(lfn string, dddb string, conddb string) error {
	pipe := c.client.Pipeline()
	pipe.Set(dbTagsKey("dddb", lfn), dddb, -1)
	pipe.Set(dbTagsKey("conddb", lfn), conddb, -1)
	_, execErr := pipe.Exec()
	if execErr != nil {
		log.Printf("ERROR: Could not record database tags for %s: %s", lfn, execErr)
	}
	return execErr
}

func (c *RedisCatalog) DBTagsForLFN(lfn string) (string, string, error) {
	dddb, dddbErr := c.client.Get(dbTagsKey("dddb", lfn)).Result()
	if dddbErr == redis.Nil {
		return "", "", fmt.Errorf("no database tags are recorded for %s", lfn)
	}
	if dddbErr != nil {
		return "", "", dddbErr
	}
	conddb, condErr := c.client.Get(dbTagsKey("conddb", lfn)).Result()
	if condErr == redis.Nil {
		return "", "", fmt.Errorf("no conditions tag is recorded for %s", lfn)
	}
	if condErr != nil {
		return "", "", condErr
	}
	return dddb, conddb, nil
}
