package storage

import (
	"encoding/json"
	"errors"

	"evoprot/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// EncodeScoreRecord stamps the current versions onto record before encoding.
func EncodeScoreRecord(record model.ScoreRecord) ([]byte, error) {
	record.SchemaVersion = CurrentSchemaVersion
	record.CodecVersion = CurrentCodecVersion
	return json.Marshal(record)
}

func DecodeScoreRecord(data []byte) (model.ScoreRecord, error) {
	var record model.ScoreRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.ScoreRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.ScoreRecord{}, err
	}
	return record, nil
}

func EncodeRanking(ranking model.IterationRanking) ([]byte, error) {
	return json.Marshal(ranking)
}

func DecodeRanking(data []byte) (model.IterationRanking, error) {
	var ranking model.IterationRanking
	if err := json.Unmarshal(data, &ranking); err != nil {
		return model.IterationRanking{}, err
	}
	return ranking, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
