package logstore

import (
	"context"
	"log"
	"time"
)

// RunCleaner periodically removes daily files that fell out of the
// retention window. It returns when ctx is done. A retention <= 0
// disables the cleaner.
func (s *Store) RunCleaner(ctx context.Context, interval, retention time.Duration) {
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[Cleaner] started. Retention: %v, Interval: %v", retention, interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PurgeExpired(retention); err != nil {
				log.Printf("[Cleaner] purge failed: %v", err)
			}
		}
	}
}

// PurgeExpired removes files whose whole UTC day ended before
// now-retention and returns how many were removed. Files whose names
// carry no date are left alone.
func (s *Store) PurgeExpired(retention time.Duration) (int, error) {
	names, err := s.logFiles()
	if err != nil {
		return 0, err
	}

	threshold := s.now().UTC().Add(-retention)
	removed := 0
	for _, name := range names {
		day, err := fileDate(name)
		if err != nil {
			continue
		}
		if day.Add(24 * time.Hour).After(threshold) {
			continue
		}
		if err := s.remove(name, "expired"); err != nil {
			log.Printf("[Cleaner] failed to delete %s: %v", name, err)
			continue
		}
		log.Printf("[Cleaner] expired file deleted: %s", name)
		removed++
	}
	return removed, nil
}
