// Package futex implements a binary semaphore on top of a single shared
// memory word. Two processes mapping the same word can post and wait
// across the process boundary without any kernel object setup; the wait
// path only enters the kernel when the semaphore is not already posted.
package futex
