package config

type StorageConfig interface {
	GetDatabasePath() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

func (Storage) GetDatabasePath() string {
	return GetEnv("DATABASE_PATH", "./data/broker.db")
}
