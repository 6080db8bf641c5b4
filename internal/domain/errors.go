package domain

import "errors"

var (
	// ErrCompetitionNotFound is returned when the competition id is unknown.
	ErrCompetitionNotFound = errors.New("competition not found")
	// ErrShareCodeNotFound is returned when a share code resolves to nothing.
	ErrShareCodeNotFound = errors.New("share code not found")
	// ErrParticipantNotFound is returned when a user tries to act before joining.
	ErrParticipantNotFound = errors.New("participant not found in competition")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a submitted option ID is invalid.
	ErrOptionNotFound = errors.New("option not found")

	// ErrInvalidStateTransition is returned when a lifecycle operation is
	// attempted from a status that does not permit it.
	ErrInvalidStateTransition = errors.New("invalid competition state transition")
	// ErrConcurrentModification is returned when a compare-and-set on the
	// competition status lost a race with another writer.
	ErrConcurrentModification = errors.New("competition modified concurrently")
	// ErrIndexOutOfRange is returned when advancing past the last question.
	ErrIndexOutOfRange = errors.New("question index out of range")

	// ErrCompetitionClosed is returned when joining a completed competition.
	ErrCompetitionClosed = errors.New("competition already ended")
	// ErrCompetitionNotActive is returned when an answer arrives outside the
	// active window.
	ErrCompetitionNotActive = errors.New("competition is not active")
	// ErrLateJoinDisabled is returned when joining a running competition that
	// does not allow late joins.
	ErrLateJoinDisabled = errors.New("competition already started")
	// ErrCompetitionFull is returned when the participant cap is reached.
	ErrCompetitionFull = errors.New("competition is full")
)
