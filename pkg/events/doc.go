/*
Package events is the in-process broker for agent events.

Collectors, the scheduler, the diagnosis engine, checkpoint managers and the
training monitor publish events such as collector.collect_failed,
diagnosis.decided or checkpoint.saved. Subscribers choose the event types they
want and read them from Subscription.C.

Publish never blocks. An event that finds the queue or a subscriber buffer
full is dropped and counted in arobust_events_dropped_total. A nil *Broker
discards everything, so components treat the broker as optional.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe(events.EventCheckpointSaved, events.EventCheckpointFailed)
	go func() {
		for ev := range sub.C {
			log.Logger.Info().Str("event", string(ev.Type)).Msg(ev.Message)
		}
	}()
*/
package events
