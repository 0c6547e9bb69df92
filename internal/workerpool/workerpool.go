// Package workerpool is a small fixed-size pool of tomb-supervised
// goroutines for handling connections, adapted from the teacher's
// worker pool for the wire edge: a bounded worker count pulling tasks
// off a shared channel, any worker's error bringing down the whole
// tomb.
package workerpool

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

// TaskChanSize bounds how many pending tasks (connections) can queue
// before AddTask blocks.
const TaskChanSize = 100

// WorkerFunction is the unit of work a pool runs per task.
type WorkerFunction = func(t *tomb.Tomb, task any) error

// Pool is a fixed-size set of workers draining a shared task channel.
type Pool struct {
	n     int
	tasks chan any
	work  WorkerFunction
}

// New creates a pool sized for `size` concurrent workers.
func New(size int) Pool {
	return Pool{
		tasks: make(chan any, TaskChanSize),
		n:     size,
	}
}

// AddTask enqueues a task for the next free worker.
func (p *Pool) AddTask(task any) {
	p.tasks <- task
}

// Setup keeps the pool topped up to its configured size until the tomb
// is dying, relaunching a worker whenever one exits.
func (p *Pool) Setup(t *tomb.Tomb, work WorkerFunction) {
	p.work = work
	log.Info().Int("workers", p.n).Msg("starting worker pool")
	active := 0
	for {
		select {
		case <-t.Dying():
			return
		default:
			if active < p.n {
				t.Go(func() error {
					err := p.worker(t)
					active--
					return err
				})
				active++
			}
		}
	}
}

func (p *Pool) worker(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-p.tasks:
			if err := p.work(t, task); err != nil {
				log.Error().Err(err).Msg("worker exiting on error")
				return err
			}
		}
	}
}
