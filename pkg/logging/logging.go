package logging

import (
	"fmt"
	"log"
	"os"
	"sync"
)

var (
	clientID     string
	clientIDOnce sync.Once

	// Async logging channel and worker
	logChan   chan string
	logWorker sync.Once
	logWg     sync.WaitGroup
	logMu     sync.Mutex
)

// initLogWorker starts the async log worker goroutine
func initLogWorker() {
	logMu.Lock()
	defer logMu.Unlock()

	logWorker.Do(func() {
		// Buffered channel so callers never block on slow output
		logChan = make(chan string, 1000)

		logWg.Add(1)
		go func() {
			defer logWg.Done()
			for msg := range logChan {
				log.Print(msg)
			}
		}()
	})
}

// GetClientID returns the unique client instance ID used to prefix log lines.
// CLIENT_ID allows a fixed ID, otherwise the hostname is used.
func GetClientID() string {
	clientIDOnce.Do(func() {
		clientID = os.Getenv("CLIENT_ID")
		if clientID == "" {
			hostname, _ := os.Hostname()
			if hostname != "" {
				if len(hostname) > 8 {
					clientID = hostname[len(hostname)-8:]
				} else {
					clientID = hostname
				}
			} else {
				clientID = "unknown"
			}
		}
	})
	return clientID
}

// Logf logs a formatted message with client ID prefix (async, non-blocking)
func Logf(format string, v ...interface{}) {
	initLogWorker()
	id := GetClientID()
	msg := fmt.Sprintf(format, v...)
	logMsg := fmt.Sprintf("[client=%s] %s", id, msg)

	// Non-blocking send: if the channel is full, fall back to sync logging
	select {
	case logChan <- logMsg:
	default:
		log.Print(logMsg)
	}
}

// Log logs a message with client ID prefix (async, non-blocking)
func Log(v ...interface{}) {
	initLogWorker()
	id := GetClientID()
	msg := fmt.Sprint(v...)
	logMsg := fmt.Sprintf("[client=%s] %s", id, msg)

	select {
	case logChan <- logMsg:
	default:
		log.Print(logMsg)
	}
}

// Fatalf logs a fatal error with client ID prefix and exits (synchronous)
func Fatalf(format string, v ...interface{}) {
	id := GetClientID()
	msg := fmt.Sprintf(format, v...)
	log.Fatalf("[client=%s] %s", id, msg)
}

// Flush waits for all pending log messages to be written
func Flush() {
	logMu.Lock()
	defer logMu.Unlock()

	if logChan != nil {
		close(logChan)
		logWg.Wait()
		logChan = nil
		logWorker = sync.Once{}
	}
}
