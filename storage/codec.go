package storage

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pthm-cable/racer/evolution"
)

// CodecVersion is written into every payload.
const CodecVersion = 1

// ErrVersionMismatch is returned when a payload was written by another codec version.
var ErrVersionMismatch = errors.New("record version mismatch")

type generationRecord struct {
	Version    int                          `msgpack:"v"`
	Generation evolution.GenerationSnapshot `msgpack:"generation"`
}

type hallOfFameRecord struct {
	Version    int                          `msgpack:"v"`
	HallOfFame evolution.HallOfFameSnapshot `msgpack:"hall_of_fame"`
}

// EncodeGeneration serializes a generation snapshot.
func EncodeGeneration(gen evolution.GenerationSnapshot) ([]byte, error) {
	return msgpack.Marshal(&generationRecord{Version: CodecVersion, Generation: gen})
}

// DecodeGeneration parses a payload written by EncodeGeneration.
func DecodeGeneration(data []byte) (evolution.GenerationSnapshot, error) {
	var rec generationRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return evolution.GenerationSnapshot{}, err
	}
	if rec.Version != CodecVersion {
		return evolution.GenerationSnapshot{}, fmt.Errorf("%w: generation v%d, want v%d", ErrVersionMismatch, rec.Version, CodecVersion)
	}
	return rec.Generation, nil
}

// EncodeHallOfFame serializes a hall-of-fame snapshot.
func EncodeHallOfFame(hof evolution.HallOfFameSnapshot) ([]byte, error) {
	return msgpack.Marshal(&hallOfFameRecord{Version: CodecVersion, HallOfFame: hof})
}

// DecodeHallOfFame parses a payload written by EncodeHallOfFame.
func DecodeHallOfFame(data []byte) (evolution.HallOfFameSnapshot, error) {
	var rec hallOfFameRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return evolution.HallOfFameSnapshot{}, err
	}
	if rec.Version != CodecVersion {
		return evolution.HallOfFameSnapshot{}, fmt.Errorf("%w: hall of fame v%d, want v%d", ErrVersionMismatch, rec.Version, CodecVersion)
	}
	return rec.HallOfFame, nil
}
