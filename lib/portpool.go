package lib

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// PortPool hands out ephemeral local ports in random order. Ports circulate
// through a ring: allocated ports leave it and come back on ReturnPort.
type PortPool struct {
	ports           []uint16
	capacity        int
	minPort         int
	maxPort         int
	readIdx         int
	writeIdx        int
	isFull, isEmpty bool
	allocatedMap    map[uint16]time.Time
	mtx             sync.Mutex
}

// NewPortPool creates a full pool holding every port in [minPort, maxPort].
func NewPortPool(minPort, maxPort int) (*PortPool, error) {
	if minPort < 1 || maxPort > 65535 || minPort > maxPort {
		return nil, fmt.Errorf("port range [%d, %d]: %w", minPort, maxPort, ErrInvalidArg)
	}
	capacity := maxPort - minPort + 1

	// random permutation of the range
	perm := rand.Perm(capacity)
	ports := make([]uint16, capacity)
	for i, v := range perm {
		ports[i] = uint16(minPort + v)
	}

	return &PortPool{
		ports:        ports,
		capacity:     capacity,
		minPort:      minPort,
		maxPort:      maxPort,
		allocatedMap: make(map[uint16]time.Time),
		isFull:       true,
	}, nil
}

// AllocatePort takes the next port for which inUse reports false. Ports found
// in use go back to the end of the ring. It fails once every pooled port has
// been tried.
func (p *PortPool) AllocatePort(inUse func(port uint16) bool) (uint16, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	for tries := p.available(); tries > 0; tries-- {
		port := p.take()
		if inUse == nil || !inUse(port) {
			p.allocatedMap[port] = time.Now()
			return port, nil
		}
		p.put(port)
	}

	return 0, fmt.Errorf("port pool [%d, %d] exhausted: %w", p.minPort, p.maxPort, ErrNoneAvailable)
}

// ReturnPort gives an allocated port back to the pool.
func (p *PortPool) ReturnPort(port uint16) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if int(port) < p.minPort || int(port) > p.maxPort {
		return fmt.Errorf("port %d out of range [%d, %d]: %w", port, p.minPort, p.maxPort, ErrInvalidArg)
	}
	if _, ok := p.allocatedMap[port]; !ok {
		return fmt.Errorf("port %d was not allocated: %w", port, ErrInvalidArg)
	}

	delete(p.allocatedMap, port)
	p.put(port)

	return nil
}

// Available returns the number of ports in the pool.
func (p *PortPool) Available() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	return p.available()
}

func (p *PortPool) available() int {
	switch {
	case p.isEmpty:
		return 0
	case p.isFull:
		return p.capacity
	case p.readIdx < p.writeIdx:
		return p.writeIdx - p.readIdx
	default:
		return p.capacity - (p.readIdx - p.writeIdx)
	}
}

func (p *PortPool) take() uint16 {
	port := p.ports[p.readIdx]
	p.readIdx = (p.readIdx + 1) % p.capacity // move read index circularly
	if p.readIdx == p.writeIdx {
		p.isEmpty = true
	}
	p.isFull = false

	return port
}

func (p *PortPool) put(port uint16) {
	p.ports[p.writeIdx] = port
	p.writeIdx = (p.writeIdx + 1) % p.capacity
	if p.writeIdx == p.readIdx {
		p.isFull = true
	}
	p.isEmpty = false
}
