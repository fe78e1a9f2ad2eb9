package redis

// keyspace builds every key from one prefix such as "ferry:".
type keyspace string

// job returns the Hash key for a job: {prefix}job:{id}
func (k keyspace) job(id string) string { return string(k) + "job:" + id }

// queue returns the Sorted Set key for a queue: {prefix}queue:{name}
func (k keyspace) queue(name string) string { return string(k) + "queue:" + name }

// jobIDs is the Set tracking all job IDs for enumeration.
func (k keyspace) jobIDs() string { return string(k) + "job_ids" }

// recurring returns the Hash key for a recurring entry.
func (k keyspace) recurring(id string) string { return string(k) + "recurring:" + id }

// recurringLock returns the lock key for a recurring entry.
func (k keyspace) recurringLock(id string) string { return string(k) + "recurring_lock:" + id }

// recurringIDs is the Set tracking all recurring ids.
func (k keyspace) recurringIDs() string { return string(k) + "recurring_ids" }
