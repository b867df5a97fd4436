package bench

import "time"

func Measure(exec func() error) (time.Duration, error) {
	s := time.Now()
	err := exec()
	return time.Since(s), err
}
