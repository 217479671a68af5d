package natsbus

import "fmt"

// Subject patterns for mission events.

// TopicMissionEvent is the subject one mission event is published on.
func TopicMissionEvent(missionID, eventType string) string {
	return fmt.Sprintf("missions.%s.%s", missionID, eventType)
}

// TopicMissionAll matches every event of one mission.
func TopicMissionAll(missionID string) string {
	return fmt.Sprintf("missions.%s.>", missionID)
}

// TopicAllMissions matches every mission event.
const TopicAllMissions = "missions.>"
