// Package mqtt provides MQTT client connectivity for the NEA SMART gateway.
//
// A [Client] keeps one broker session alive, publishes retained entity
// state and routes command topics to handlers. Routes are restored after
// every reconnect, and the system status topic carries an online message,
// a graceful offline message on Close, or the broker-published will.
//
// # Topic Tree
//
//	neasmart/state/zone/{base}/{zone}      retained zone state
//	neasmart/state/mixedgroup/{group}      retained mixed-group state
//	neasmart/state/outside                 retained outside temperature
//	neasmart/state/notifications           retained plant notifications
//	neasmart/state/mode                    retained global mode
//	neasmart/state/globalstate             retained global state
//	neasmart/state/dehumidifier/{id}       retained dehumidifier state
//	neasmart/state/pump/{id}               retained pump state
//	neasmart/command/zone/{base}/{zone}    zone write
//	neasmart/command/mode                  mode write
//	neasmart/command/globalstate           global state write
//	neasmart/system/status                 online/offline (LWT)
//
// Builders live on [Topics]; the bridge package owns the payloads.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllZoneCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        base, zone, ok := mqtt.ParseZoneCommand(topic)
//	        ...
//	    })
package mqtt
