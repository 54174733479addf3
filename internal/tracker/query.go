package tracker

// GetJob returns a copy of the record at index.
func (s *Store) GetJob(index int) (Job, bool) {
	s.ensureLoaded()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.jobs) {
		return Job{}, false
	}
	return *cloneJob(s.jobs[index]), true
}

func (s *Store) GetAllJobs() []Job {
	return s.filter(func(*Job) bool { return true })
}

func (s *Store) GetJobsByStatus(status Status) []Job {
	return s.filter(func(j *Job) bool { return j.Status == status })
}

// GetJobsByCompany matches company names containing substr, ignoring case.
func (s *Store) GetJobsByCompany(substr string) []Job {
	return s.filter(func(j *Job) bool { return containsFold(j.Company, substr) })
}

// SearchJobs matches query against title, company and location, ignoring case.
func (s *Store) SearchJobs(query string) []Job {
	return s.filter(func(j *Job) bool { return matchesQuery(j, query) })
}

func (s *Store) GetStatistics() Statistics {
	s.ensureLoaded()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Statistics{
		TotalJobs:  len(s.jobs),
		ByStatus:   make(map[string]int),
		ByCompany:  make(map[string]int),
		ByJobBoard: make(map[string]int),
	}
	for _, job := range s.jobs {
		status := string(job.Status)
		if status == "" {
			status = unknownBucket
		}
		stats.ByStatus[status]++

		stats.ByCompany[job.Company]++

		board := job.JobBoard
		if board == "" {
			board = unknownBucket
		}
		stats.ByJobBoard[board]++

		if job.Status == StatusApplied {
			stats.AppliedCount++
		}
	}
	return stats
}

func (s *Store) filter(keep func(*Job) bool) []Job {
	s.ensureLoaded()

	s.mu.RLock()
	defer s.mu.RUnlock()

	ret := make([]Job, 0)
	for _, job := range s.jobs {
		if keep(job) {
			ret = append(ret, *cloneJob(job))
		}
	}
	return ret
}
