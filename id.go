package oao

import (
	"log"

	"go.jetify.com/typeid"
)

// NewExecutionID creates a new execution id
func NewExecutionID() string {
	value, err := typeid.WithPrefix("exec")
	if err != nil {
		log.Fatalf("error creating new id: %v", err)
	}
	return value.String()
}

// NewEventID creates a new event id
func NewEventID() string {
	value, err := typeid.WithPrefix("event")
	if err != nil {
		log.Fatalf("error creating new id: %v", err)
	}
	return value.String()
}

// NewJobID creates a new scheduler job id
func NewJobID() string {
	value, err := typeid.WithPrefix("job")
	if err != nil {
		log.Fatalf("error creating new id: %v", err)
	}
	return value.String()
}

// NewWorkerID creates a new worker id
func NewWorkerID() string {
	value, err := typeid.WithPrefix("worker")
	if err != nil {
		log.Fatalf("error creating new id: %v", err)
	}
	return value.String()
}
