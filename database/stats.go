package database

// StorageStats aggregates message, room and compression metrics across
// all stored user messages. Ratios are percentages of space saved;
// divisors that could be zero default to zero.
type StorageStats struct {
	TotalMessages         int64   `json:"totalMessages"`
	TotalRooms            int64   `json:"totalRooms"`
	ActiveUsers           int64   `json:"activeUsers"`
	AvgCompressionRatio   float64 `json:"avgCompressionRatio"`
	BestCompressionRatio  float64 `json:"bestCompressionRatio"`
	WorstCompressionRatio float64 `json:"worstCompressionRatio"`
	AvgMessageSize        int64   `json:"avgMessageSize"`
	TotalStorageUsed      int64   `json:"totalStorageUsed"`
	TotalOriginalSize     int64   `json:"totalOriginalSize"`
	SpaceSavedBytes       int64   `json:"spaceSavedBytes"`
	SpaceSavedPercent     float64 `json:"spaceSaved"`
}

type statsRow struct {
	TotalMessages     int64
	TotalRooms        int64
	ActiveUsers       int64
	AvgStoredRatio    float64
	BestStoredRatio   float64
	WorstStoredRatio  float64
	AvgMessageSize    float64
	TotalStorageUsed  int64
	TotalOriginalSize int64
}

// Stats computes aggregate statistics in a single query.
func (s *Store) Stats() (*StorageStats, error) {
	var row statsRow
	err := s.db.Raw(`
		SELECT
			(SELECT COUNT(*) FROM messages WHERE message_type = 'user') AS total_messages,
			(SELECT COUNT(*) FROM rooms) AS total_rooms,
			(SELECT COUNT(*) FROM user_sessions) AS active_users,
			(SELECT COALESCE(AVG(compressed_size * 100.0 / original_size), 0)
				FROM messages WHERE original_size > 0 AND message_type = 'user') AS avg_stored_ratio,
			(SELECT COALESCE(MIN(compressed_size * 100.0 / original_size), 0)
				FROM messages WHERE original_size > 0 AND message_type = 'user') AS best_stored_ratio,
			(SELECT COALESCE(MAX(compressed_size * 100.0 / original_size), 0)
				FROM messages WHERE original_size > 0 AND message_type = 'user') AS worst_stored_ratio,
			(SELECT COALESCE(AVG(original_size), 0)
				FROM messages WHERE original_size > 0 AND message_type = 'user') AS avg_message_size,
			(SELECT COALESCE(SUM(compressed_size), 0)
				FROM messages WHERE message_type = 'user') AS total_storage_used,
			(SELECT COALESCE(SUM(original_size), 0)
				FROM messages WHERE message_type = 'user') AS total_original_size
	`).Scan(&row).Error
	if err != nil {
		return nil, storeErr("stats", err)
	}

	stats := &StorageStats{
		TotalMessages:     row.TotalMessages,
		TotalRooms:        row.TotalRooms,
		ActiveUsers:       row.ActiveUsers,
		AvgMessageSize:    int64(row.AvgMessageSize + 0.5),
		TotalStorageUsed:  row.TotalStorageUsed,
		TotalOriginalSize: row.TotalOriginalSize,
	}

	// Stored ratios are compressed/original percentages; report them as
	// percent saved.
	if row.TotalMessages > 0 && row.AvgStoredRatio > 0 {
		stats.AvgCompressionRatio = round1(100 - row.AvgStoredRatio)
		stats.BestCompressionRatio = round1(100 - row.BestStoredRatio)
		stats.WorstCompressionRatio = round1(100 - row.WorstStoredRatio)
	}

	stats.SpaceSavedBytes = stats.TotalOriginalSize - stats.TotalStorageUsed
	if stats.TotalOriginalSize > 0 {
		stats.SpaceSavedPercent = round1(float64(stats.SpaceSavedBytes) / float64(stats.TotalOriginalSize) * 100)
	}
	return stats, nil
}

func round1(v float64) float64 {
	if v < 0 {
		return float64(int64(v*10-0.5)) / 10
	}
	return float64(int64(v*10+0.5)) / 10
}
