package logger

import "go.uber.org/zap"

// New builds a named, production-configured sugared logger.
func New(name string) (*zap.SugaredLogger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	return l.Named(name).Sugar(), nil
}
